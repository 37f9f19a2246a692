package prompts

import (
	"strings"
	"testing"
)

func TestSystemBareHasNoSections(t *testing.T) {
	got := System(nil, "")
	if strings.Contains(got, "## Hard Rules") {
		t.Error("bare prompt should not contain a hard rules section")
	}
	if strings.Contains(got, "## Background Facts") {
		t.Error("bare prompt should not contain a background facts section")
	}
	if !strings.Contains(got, "OmniMind") {
		t.Error("prompt should state the assistant identity")
	}
}

func TestSystemIncludesRulesAndMemories(t *testing.T) {
	got := System([]string{"总是用中文回答", "never mention pricing"}, "- user lives in Berlin")

	if !strings.Contains(got, "- 总是用中文回答\n") {
		t.Errorf("missing rule bullet in:\n%s", got)
	}
	if !strings.Contains(got, "- never mention pricing\n") {
		t.Errorf("missing rule bullet in:\n%s", got)
	}
	if !strings.Contains(got, "## Background Facts\n- user lives in Berlin") {
		t.Errorf("missing memories section in:\n%s", got)
	}

	// Rules must come before memories so they read as higher priority.
	if strings.Index(got, "## Hard Rules") > strings.Index(got, "## Background Facts") {
		t.Error("hard rules section should precede background facts")
	}
}

func TestSummaryEmbedsConversation(t *testing.T) {
	got := Summary("User: hi\nAssistant: hello")
	if !strings.Contains(got, "User: hi\nAssistant: hello") {
		t.Errorf("conversation text not embedded in:\n%s", got)
	}
	if !strings.Contains(got, "under 500 characters") {
		t.Error("summary prompt should state the length bound")
	}
}

func TestTitleEmbedsExchange(t *testing.T) {
	got := Title("早上好", "早上好！有什么可以帮你的吗？")
	if !strings.Contains(got, "User: 早上好") {
		t.Errorf("user text not embedded in:\n%s", got)
	}
	if !strings.Contains(got, "20 characters") {
		t.Error("title prompt should state the length bound")
	}
}
