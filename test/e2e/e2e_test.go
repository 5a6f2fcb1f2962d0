//go:build e2e

package e2e

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ingestionData struct {
	Ingestion struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Hash   string `json:"input_hash"`
	} `json:"ingestion"`
	AlreadyExists bool `json:"already_exists"`
}

type knowledgeListData struct {
	Items []struct {
		ID     string `json:"id"`
		Type   string `json:"type"`
		Title  string `json:"title"`
		Status string `json:"status"`
	} `json:"items"`
	HasMore bool `json:"has_more"`
}

type sessionData struct {
	ID string `json:"id"`
}

func TestE2E_IngestToAnswerFlow(t *testing.T) {
	env := SetupEnv(t)
	defer env.Cleanup()

	// A question before any knowledge exists must hit the no-matches gate.
	resp, err := env.Post("/chat/sessions", map[string]string{"title": "MSCONS triage"})
	require.NoError(t, err)
	var session sessionData
	require.NoError(t, json.Unmarshal(resp.Data, &session))

	askPath := fmt.Sprintf("/chat/sessions/%s/ask", session.ID)
	stream, err := env.PostSSE(askPath, map[string]string{
		"question": "How do I fix stuck MSCONS messages?",
		"mode":     "GENERAL",
	})
	require.NoError(t, err)
	assert.Contains(t, stream, "event: no_matches")
	assert.NotContains(t, stream, "event: delta")

	// Ingest raw text and run one synthesis batch.
	resp, err = env.Post("/ingestions", map[string]string{
		"scope":      "standard",
		"kind":       "text",
		"text":       "MSCONS messages are stuck in the inbound error queue since the release upgrade.",
		"input_name": "incident-notes.txt",
	})
	require.NoError(t, err)
	var ing ingestionData
	require.NoError(t, json.Unmarshal(resp.Data, &ing))
	assert.Equal(t, "DRAFT", ing.Ingestion.Status)
	assert.False(t, ing.AlreadyExists)

	report := env.ProcessBatch()
	assert.Equal(t, 1, report.Claimed)
	assert.Equal(t, 1, report.Synthesized)
	assert.Equal(t, 2, report.Created)

	// Synthesized drafts are not retrievable until approved.
	stream, err = env.PostSSE(askPath, map[string]string{
		"question": "How do I fix stuck MSCONS messages?",
		"mode":     "GENERAL",
	})
	require.NoError(t, err)
	assert.Contains(t, stream, "event: no_matches")

	resp, err = env.Get("/knowledge?scope=standard")
	require.NoError(t, err)
	var list knowledgeListData
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	require.Len(t, list.Items, 2)

	for _, item := range list.Items {
		assert.Equal(t, "DRAFT", item.Status)
		approveResp, err := env.Post("/knowledge/"+item.ID+"/approve", nil)
		require.NoError(t, err)
		var approved struct {
			Indexed    bool   `json:"indexed"`
			IndexError string `json:"index_error"`
		}
		require.NoError(t, json.Unmarshal(approveResp.Data, &approved))
		assert.True(t, approved.Indexed, "index error: %s", approved.IndexError)
	}

	// Approving the derived items moves the originating ingestion along.
	resp, err = env.Get("/ingestions/" + ing.Ingestion.ID)
	require.NoError(t, err)
	var approvedIng struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &approvedIng))
	assert.Equal(t, "APPROVED", approvedIng.Status)

	// Now the ask must stream an answer with sources.
	stream, err = env.PostSSE(askPath, map[string]string{
		"question": "How do I fix stuck MSCONS messages?",
		"mode":     "GENERAL",
	})
	require.NoError(t, err)
	assert.Contains(t, stream, "event: delta")
	assert.Contains(t, stream, "event: sources")
	assert.Contains(t, stream, "model_called")
	assert.NotContains(t, stream, "event: no_matches")

	// The exchange is persisted: three asks, two messages each.
	resp, err = env.Get(fmt.Sprintf("/chat/sessions/%s/messages", session.ID))
	require.NoError(t, err)
	var messages []struct {
		Role        string   `json:"role"`
		Seq         int      `json:"seq"`
		UsedItems   []string `json:"used_kb_items"`
		ModelCalled bool     `json:"model_called"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &messages))
	require.Len(t, messages, 6)
	last := messages[5]
	assert.Equal(t, "assistant", last.Role)
	assert.True(t, last.ModelCalled)
	assert.NotEmpty(t, last.UsedItems)

	// Export the transcript.
	raw, contentType, err := env.GetRaw(fmt.Sprintf("/chat/sessions/%s/export?format=markdown", session.ID))
	require.NoError(t, err)
	assert.Contains(t, contentType, "text/markdown")
	assert.True(t, strings.HasPrefix(string(raw), "# MSCONS triage"))
	assert.Contains(t, string(raw), "### Assistant")
}

func TestE2E_IntakeDedupe(t *testing.T) {
	env := SetupEnv(t)
	defer env.Cleanup()

	body := map[string]string{
		"scope": "standard",
		"kind":  "text",
		"text":  "Duplicate intake probe text.",
	}
	resp, err := env.Post("/ingestions", body)
	require.NoError(t, err)
	var first ingestionData
	require.NoError(t, json.Unmarshal(resp.Data, &first))
	assert.False(t, first.AlreadyExists)

	resp, err = env.Post("/ingestions", body)
	require.NoError(t, err)
	var second ingestionData
	require.NoError(t, json.Unmarshal(resp.Data, &second))
	assert.True(t, second.AlreadyExists)
	assert.Equal(t, first.Ingestion.ID, second.Ingestion.ID)
}

func TestE2E_ClientScopeIsolation(t *testing.T) {
	env := SetupEnv(t)
	defer env.Cleanup()

	// Client-scoped intake requires a registered client.
	_, err := env.Post("/ingestions", map[string]string{
		"scope":       "client",
		"client_code": "SWM",
		"kind":        "text",
		"text":        "Client specific customizing note.",
	})
	require.Error(t, err)

	resp, err := env.Post("/clients", map[string]string{"code": "swm", "name": "Stadtwerke München"})
	require.NoError(t, err)
	var client struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &client))
	assert.Equal(t, "SWM", client.Code)

	_, err = env.Post("/ingestions", map[string]string{
		"scope":       "client",
		"client_code": "SWM",
		"kind":        "text",
		"text":        "Client specific customizing note.",
	})
	require.NoError(t, err)

	report := env.ProcessBatch()
	require.Equal(t, 2, report.Created)

	// Approve the client items, then verify a general-mode session cannot
	// see them.
	resp, err = env.Get("/knowledge?scope=client&client_code=SWM")
	require.NoError(t, err)
	var list knowledgeListData
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	require.Len(t, list.Items, 2)
	for _, item := range list.Items {
		_, err := env.Post("/knowledge/"+item.ID+"/approve", nil)
		require.NoError(t, err)
	}

	resp, err = env.Post("/chat/sessions", map[string]string{"title": "general"})
	require.NoError(t, err)
	var generalSession sessionData
	require.NoError(t, json.Unmarshal(resp.Data, &generalSession))

	stream, err := env.PostSSE(fmt.Sprintf("/chat/sessions/%s/ask", generalSession.ID), map[string]string{
		"question": "What about the client specific customizing note?",
		"mode":     "GENERAL",
	})
	require.NoError(t, err)
	assert.Contains(t, stream, "event: no_matches")

	// A session bound to the client retrieves them in CLIENT mode.
	resp, err = env.Post("/chat/sessions", map[string]string{"title": "client", "client_code": "SWM"})
	require.NoError(t, err)
	var clientSession sessionData
	require.NoError(t, json.Unmarshal(resp.Data, &clientSession))

	stream, err = env.PostSSE(fmt.Sprintf("/chat/sessions/%s/ask", clientSession.ID), map[string]string{
		"question": "What about the client specific customizing note?",
		"mode":     "CLIENT",
	})
	require.NoError(t, err)
	assert.Contains(t, stream, "event: sources")
}

func TestE2E_Reconcile(t *testing.T) {
	env := SetupEnv(t)
	defer env.Cleanup()

	resp, err := env.Post("/admin/reconcile", nil)
	require.NoError(t, err)
	var report struct {
		CollectionsChecked int `json:"collections_checked"`
		ApprovedItems      int `json:"approved_items"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &report))
	assert.Equal(t, 1, report.CollectionsChecked)
	assert.Equal(t, 0, report.ApprovedItems)
}
