package agent

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/omnimind-ai/omnimind/internal/history"
	"github.com/omnimind-ai/omnimind/internal/llm"
	"github.com/omnimind-ai/omnimind/internal/store"
)

// scriptedRound describes what one ChatStream call should produce.
type scriptedRound struct {
	reasoning string
	content   string
	toolCalls []llm.ToolCall
}

type fakeCompleter struct {
	rounds    []scriptedRound
	calls     int
	requests  [][]llm.Message
	chatReply string
	chatErr   error
	streamErr error
}

func (f *fakeCompleter) Model() string { return "fake-model" }

func (f *fakeCompleter) Chat(_ context.Context, _ []llm.Message, _ llm.ChatOptions) (*llm.ChatResponse, error) {
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	return &llm.ChatResponse{Message: llm.TextMessage("assistant", f.chatReply)}, nil
}

func (f *fakeCompleter) ChatStream(_ context.Context, msgs []llm.Message, _ llm.ChatOptions, cb llm.StreamCallback) (*llm.ChatResponse, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	f.requests = append(f.requests, msgs)

	round := f.rounds[f.calls]
	if f.calls < len(f.rounds)-1 {
		f.calls++
	}

	if round.reasoning != "" {
		cb(llm.StreamEvent{Kind: llm.KindReasoning, Token: round.reasoning})
	}
	if round.content != "" {
		cb(llm.StreamEvent{Kind: llm.KindContent, Token: round.content})
	}

	msg := llm.Message{Role: "assistant", ReasoningContent: round.reasoning, ToolCalls: round.toolCalls}
	if round.content != "" {
		msg.Content = round.content
	}
	return &llm.ChatResponse{Message: msg}, nil
}

// savedMessage records one persistence write in order.
type savedMessage struct {
	role    string
	content string
	thought string
	calls   []llm.ToolCall
	callID  string
	name    string
}

type fakeStore struct {
	saves []savedMessage
	rules []store.HardRule
	title string
}

func (f *fakeStore) EnsureSession(string, string) error { return nil }

func (f *fakeStore) GetHistory(string, int) ([]llm.Message, error) { return nil, nil }

func (f *fakeStore) SaveUserMessage(_, _, content string) error {
	f.saves = append(f.saves, savedMessage{role: "user", content: content})
	return nil
}

func (f *fakeStore) SaveAssistantMessage(_, _, content, thought string, calls []llm.ToolCall) error {
	f.saves = append(f.saves, savedMessage{role: "assistant", content: content, thought: thought, calls: calls})
	return nil
}

func (f *fakeStore) SaveToolMessage(_, _, callID, name, result string) error {
	f.saves = append(f.saves, savedMessage{role: "tool", content: result, callID: callID, name: name})
	return nil
}

func (f *fakeStore) ListHardRules(string) ([]store.HardRule, error) { return f.rules, nil }

func (f *fakeStore) GetSessionTitle(string) (string, error) { return f.title, nil }

func (f *fakeStore) SetSessionTitle(_, title string) error {
	f.title = title
	return nil
}

type fakeMemory struct {
	searched []string
	added    []string
	results  []string
}

func (f *fakeMemory) Search(_ context.Context, query, _, _ string) ([]string, error) {
	f.searched = append(f.searched, query)
	return f.results, nil
}

func (f *fakeMemory) Add(_ context.Context, content, _, _ string) error {
	f.added = append(f.added, content)
	return nil
}

type fakeExecutor struct {
	catalog  []map[string]any
	executed []string
	result   string
	err      error
}

func (f *fakeExecutor) Catalog(context.Context) []map[string]any { return f.catalog }

func (f *fakeExecutor) Execute(_ context.Context, name, argsJSON string) (string, error) {
	f.executed = append(f.executed, name+" "+argsJSON)
	if f.err != nil {
		return "", f.err
	}
	return f.result, nil
}

// recordingEmitter captures protocol events in emission order.
type recordingEmitter struct {
	events []string
}

func (r *recordingEmitter) Status(text string) error {
	r.events = append(r.events, "s:"+text)
	return nil
}
func (r *recordingEmitter) ClearStatus() error { return r.Status("") }
func (r *recordingEmitter) Reasoning(text string) error {
	r.events = append(r.events, "t:"+text)
	return nil
}
func (r *recordingEmitter) Content(text string) error {
	r.events = append(r.events, "c:"+text)
	return nil
}
func (r *recordingEmitter) Title(text string) error {
	r.events = append(r.events, "u:"+text)
	return nil
}

type stubSummarizer struct{}

func (stubSummarizer) Summarize(context.Context, []llm.Message) (string, error) {
	return "summary", nil
}

func newTestOrchestrator(model *fakeCompleter, st *fakeStore, mem *fakeMemory, exec *fakeExecutor) *Orchestrator {
	comp := history.NewCompressor(history.Config{TokenThreshold: 1 << 30, RecentDefault: 20}, stubSummarizer{}, nil, nil)
	var m Memory
	if mem != nil {
		m = mem
	}
	return New(model, model, st, m, exec, comp, nil)
}

func basicRequest() Request {
	return Request{
		Message:            "hi there",
		SessionID:          "sess1",
		UserID:             "u1",
		UseMemory:          true,
		RecentContextCount: history.UnlimitedRecent,
	}
}

func TestSingleRoundFinalAnswer(t *testing.T) {
	model := &fakeCompleter{
		rounds:    []scriptedRound{{content: "hello!"}},
		chatReply: "问候",
	}
	st := &fakeStore{}
	mem := &fakeMemory{}
	out := &recordingEmitter{}

	o := newTestOrchestrator(model, st, mem, &fakeExecutor{})
	o.Run(context.Background(), basicRequest(), out)

	// Persistence order: user message, then final assistant with no
	// tool calls.
	if len(st.saves) != 2 {
		t.Fatalf("saves = %+v", st.saves)
	}
	if st.saves[0].role != "user" || st.saves[0].content != "hi there" {
		t.Errorf("user save = %+v", st.saves[0])
	}
	if st.saves[1].role != "assistant" || st.saves[1].content != "hello!" || len(st.saves[1].calls) != 0 {
		t.Errorf("assistant save = %+v", st.saves[1])
	}

	// Memory record written for the exchange.
	if len(mem.added) != 1 || !strings.Contains(mem.added[0], "hello!") {
		t.Errorf("memory adds = %v", mem.added)
	}

	// Stream: status, cleared status on first delta, content, title.
	want := []string{"s:生成中...", "s:", "c:hello!", "u:问候"}
	if len(out.events) != len(want) {
		t.Fatalf("events = %v", out.events)
	}
	for i, ev := range want {
		if out.events[i] != ev {
			t.Errorf("event %d = %q, want %q", i, out.events[i], ev)
		}
	}

	if st.title != "问候" {
		t.Errorf("title = %q", st.title)
	}
}

func TestReasoningModeStatusAndDeltas(t *testing.T) {
	model := &fakeCompleter{
		rounds:    []scriptedRound{{reasoning: "pondering", content: "answer"}},
		chatReply: "t",
	}
	out := &recordingEmitter{}

	req := basicRequest()
	req.Reasoning = true
	o := newTestOrchestrator(model, &fakeStore{}, nil, &fakeExecutor{})
	o.Run(context.Background(), req, out)

	want := []string{"s:思考中...", "s:", "t:pondering", "c:answer", "u:t"}
	if len(out.events) != len(want) {
		t.Fatalf("events = %v", out.events)
	}
	for i, ev := range want {
		if out.events[i] != ev {
			t.Errorf("event %d = %q, want %q", i, out.events[i], ev)
		}
	}
}

func TestToolRoundThenFinalAnswer(t *testing.T) {
	call := llm.ToolCall{
		ID:       "call_1",
		Type:     "function",
		Function: llm.FunctionCall{Name: "get_date", Arguments: `{"tz":"UTC"}`},
	}
	model := &fakeCompleter{
		rounds: []scriptedRound{
			{toolCalls: []llm.ToolCall{call}},
			{content: "today is Saturday"},
		},
		chatReply: "date chat",
	}
	st := &fakeStore{}
	exec := &fakeExecutor{result: "2026-08-30"}
	out := &recordingEmitter{}

	o := newTestOrchestrator(model, st, nil, exec)
	o.Run(context.Background(), basicRequest(), out)

	if len(exec.executed) != 1 || !strings.HasPrefix(exec.executed[0], "get_date") {
		t.Fatalf("executed = %v", exec.executed)
	}

	// Writes in strict turn order.
	roles := make([]string, len(st.saves))
	for i, s := range st.saves {
		roles[i] = s.role
	}
	wantRoles := []string{"user", "assistant", "tool", "assistant"}
	if strings.Join(roles, ",") != strings.Join(wantRoles, ",") {
		t.Fatalf("persistence order = %v", roles)
	}
	if len(st.saves[1].calls) != 1 || st.saves[1].calls[0].ID != "call_1" {
		t.Errorf("tool round assistant save = %+v", st.saves[1])
	}
	if st.saves[2].callID != "call_1" || st.saves[2].content != "2026-08-30" {
		t.Errorf("tool save = %+v", st.saves[2])
	}

	// The second completion request carries the tool result.
	if len(model.requests) != 2 {
		t.Fatalf("completion rounds = %d", len(model.requests))
	}
	secondReq := model.requests[1]
	last := secondReq[len(secondReq)-1]
	if last.Role != "tool" || last.ToolCallID != "call_1" || last.Text() != "2026-08-30" {
		t.Errorf("tool message not replayed: %+v", last)
	}
	// The assistant tool request replays with null content.
	asst := secondReq[len(secondReq)-2]
	if asst.Role != "assistant" || asst.Content != nil || len(asst.ToolCalls) != 1 {
		t.Errorf("assistant replay = %+v", asst)
	}
	if asst.ReasoningContent == "" {
		t.Error("assistant replay missing reasoning placeholder")
	}

	// Tool execution status announced between rounds.
	found := false
	for _, ev := range out.events {
		if strings.Contains(ev, "get_date") && strings.HasPrefix(ev, "s:") {
			found = true
		}
	}
	if !found {
		t.Errorf("no tool status event: %v", out.events)
	}
}

func TestIterationCap(t *testing.T) {
	call := llm.ToolCall{
		ID:       "call_x",
		Type:     "function",
		Function: llm.FunctionCall{Name: "busy", Arguments: `{}`},
	}
	model := &fakeCompleter{
		rounds: []scriptedRound{{toolCalls: []llm.ToolCall{call}}},
	}
	exec := &fakeExecutor{result: "keep going"}

	o := newTestOrchestrator(model, &fakeStore{}, nil, exec)
	o.Run(context.Background(), basicRequest(), &recordingEmitter{})

	if len(model.requests) != maxIterations {
		t.Errorf("completion rounds = %d, want %d", len(model.requests), maxIterations)
	}
	if len(exec.executed) != maxIterations {
		t.Errorf("tool executions = %d, want %d", len(exec.executed), maxIterations)
	}
}

func TestToolArgumentParseFailure(t *testing.T) {
	badCall := llm.ToolCall{
		ID:       "call_bad",
		Type:     "function",
		Function: llm.FunctionCall{Name: "broken", Arguments: `{"unclosed`},
	}
	model := &fakeCompleter{
		rounds: []scriptedRound{
			{toolCalls: []llm.ToolCall{badCall}},
			{content: "recovered"},
		},
		chatReply: "t",
	}
	st := &fakeStore{}
	exec := &fakeExecutor{}
	out := &recordingEmitter{}

	o := newTestOrchestrator(model, st, nil, exec)
	o.Run(context.Background(), basicRequest(), out)

	// Parse failure never reaches the executor.
	if len(exec.executed) != 0 {
		t.Errorf("executor called with bad args: %v", exec.executed)
	}

	// Failure recorded as the tool result, turn continues to a final
	// answer.
	var toolSave *savedMessage
	for i := range st.saves {
		if st.saves[i].role == "tool" {
			toolSave = &st.saves[i]
		}
	}
	if toolSave == nil || !strings.Contains(toolSave.content, "Error") {
		t.Fatalf("tool failure not recorded: %+v", st.saves)
	}

	errEvent := false
	finalContent := false
	for _, ev := range out.events {
		if strings.Contains(ev, "[Tool Error:") {
			errEvent = true
		}
		if ev == "c:recovered" {
			finalContent = true
		}
	}
	if !errEvent {
		t.Errorf("no tool error event: %v", out.events)
	}
	if !finalContent {
		t.Errorf("turn did not recover: %v", out.events)
	}
}

func TestExecutorFailureBecomesResult(t *testing.T) {
	call := llm.ToolCall{
		ID:       "call_1",
		Type:     "function",
		Function: llm.FunctionCall{Name: "flaky", Arguments: `{}`},
	}
	model := &fakeCompleter{
		rounds: []scriptedRound{
			{toolCalls: []llm.ToolCall{call}},
			{content: "done"},
		},
		chatReply: "t",
	}
	st := &fakeStore{}
	exec := &fakeExecutor{err: fmt.Errorf("upstream timeout")}

	o := newTestOrchestrator(model, st, nil, exec)
	o.Run(context.Background(), basicRequest(), &recordingEmitter{})

	var toolSave *savedMessage
	for i := range st.saves {
		if st.saves[i].role == "tool" {
			toolSave = &st.saves[i]
		}
	}
	if toolSave == nil || !strings.Contains(toolSave.content, "upstream timeout") {
		t.Fatalf("executor failure not recorded: %+v", st.saves)
	}
}

func TestBackendErrorSurfacesOnStream(t *testing.T) {
	model := &fakeCompleter{streamErr: fmt.Errorf("connection refused")}
	out := &recordingEmitter{}

	o := newTestOrchestrator(model, &fakeStore{}, nil, &fakeExecutor{})
	o.Run(context.Background(), basicRequest(), out)

	found := false
	for _, ev := range out.events {
		if strings.Contains(ev, "[Backend Error:") && strings.Contains(ev, "connection refused") {
			found = true
		}
	}
	if !found {
		t.Errorf("backend error not surfaced: %v", out.events)
	}
}

func TestMemoryDisabled(t *testing.T) {
	model := &fakeCompleter{
		rounds:    []scriptedRound{{content: "ok"}},
		chatReply: "t",
	}
	mem := &fakeMemory{results: []string{"should not appear"}}

	req := basicRequest()
	req.UseMemory = false
	o := newTestOrchestrator(model, &fakeStore{}, mem, &fakeExecutor{})
	o.Run(context.Background(), req, &recordingEmitter{})

	if len(mem.searched) != 0 || len(mem.added) != 0 {
		t.Errorf("memory used while disabled: searched=%v added=%v", mem.searched, mem.added)
	}
}

func TestHardRulesAndMemoriesInSystemPrompt(t *testing.T) {
	model := &fakeCompleter{
		rounds:    []scriptedRound{{content: "ok"}},
		chatReply: "t",
	}
	st := &fakeStore{rules: []store.HardRule{{ID: "r1", UserID: "u1", Content: "answer in Chinese"}}}
	mem := &fakeMemory{results: []string{"user likes tea"}}

	o := newTestOrchestrator(model, st, mem, &fakeExecutor{})
	o.Run(context.Background(), basicRequest(), &recordingEmitter{})

	if len(model.requests) != 1 {
		t.Fatalf("rounds = %d", len(model.requests))
	}
	system := model.requests[0][0]
	if system.Role != "system" {
		t.Fatalf("first message role = %q", system.Role)
	}
	if !strings.Contains(system.Text(), "answer in Chinese") {
		t.Errorf("hard rule missing from system prompt")
	}
	if !strings.Contains(system.Text(), "user likes tea") {
		t.Errorf("memory missing from system prompt")
	}
}

func TestTitleGeneratedOnlyOnce(t *testing.T) {
	model := &fakeCompleter{
		rounds:    []scriptedRound{{content: "ok"}},
		chatReply: "fresh title",
	}
	st := &fakeStore{title: "existing title"}
	out := &recordingEmitter{}

	o := newTestOrchestrator(model, st, nil, &fakeExecutor{})
	o.Run(context.Background(), basicRequest(), out)

	for _, ev := range out.events {
		if strings.HasPrefix(ev, "u:") {
			t.Errorf("title re-emitted for titled session: %v", out.events)
		}
	}
	if st.title != "existing title" {
		t.Errorf("title overwritten: %q", st.title)
	}
}

func TestImageTurn(t *testing.T) {
	model := &fakeCompleter{
		rounds:    []scriptedRound{{content: "a cat"}},
		chatReply: "t",
	}
	st := &fakeStore{}

	req := basicRequest()
	req.Message = "what is this"
	req.Image = "data:image/png;base64,AAAA"
	o := newTestOrchestrator(model, st, nil, &fakeExecutor{})
	o.Run(context.Background(), req, &recordingEmitter{})

	last := model.requests[0][len(model.requests[0])-1]
	parts, ok := last.Content.([]llm.ContentPart)
	if !ok || len(parts) != 2 {
		t.Fatalf("user content = %+v", last.Content)
	}
	if parts[0].ImageURL == nil || parts[0].ImageURL.URL != req.Image {
		t.Errorf("image part = %+v", parts[0])
	}
	if st.saves[0].content != "[Image] what is this" {
		t.Errorf("stored user text = %q", st.saves[0].content)
	}
}

func TestSanitizeForRequest(t *testing.T) {
	in := []llm.Message{
		{Role: "assistant", ToolCalls: []llm.ToolCall{{ID: "c1"}}},
		{Role: "assistant", Content: ""},
		{Role: "assistant", Content: "visible", ReasoningContent: "kept"},
		{Role: "user", Content: "hi"},
	}
	out := sanitizeForRequest(in)

	if out[0].Content != nil {
		t.Errorf("tool-call-only content = %v, want nil", out[0].Content)
	}
	if out[0].ReasoningContent != "Thought process restored." {
		t.Errorf("tool-call-only reasoning = %q", out[0].ReasoningContent)
	}
	if out[1].Content != "" || out[1].ReasoningContent != "Thinking..." {
		t.Errorf("plain empty assistant = %+v", out[1])
	}
	if out[2].Content != "visible" || out[2].ReasoningContent != "kept" {
		t.Errorf("populated assistant mutated: %+v", out[2])
	}
	if out[3].Content != "hi" {
		t.Errorf("user mutated: %+v", out[3])
	}
}
