package httpx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrsh22/filify/internal/domain"
)

func sign(secret string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	r := &Router{webhookSecret: "hook-secret"}
	payload := []byte(`{"ref":"refs/heads/main"}`)

	assert.NoError(t, r.verifySignature(payload, sign("hook-secret", payload)))
	assert.Error(t, r.verifySignature(payload, sign("wrong-secret", payload)))
	assert.Error(t, r.verifySignature(payload, ""))
	assert.Error(t, r.verifySignature([]byte("tampered"), sign("hook-secret", payload)))
}

func TestVerifySignatureRequiresConfiguredSecret(t *testing.T) {
	r := &Router{}
	payload := []byte("{}")
	assert.Error(t, r.verifySignature(payload, sign("", payload)))
}

func TestDeploymentPayloadOmitsEmptyFields(t *testing.T) {
	d := &domain.Deployment{
		ID:        "dep-1",
		ProjectID: "proj-1",
		Status:    domain.StatusPendingBuild,
		Trigger:   domain.TriggerManual,
		CreatedAt: time.Now().UTC(),
	}

	payload := deploymentPayload(d)
	assert.Equal(t, "pending_build", payload["status"])
	assert.NotContains(t, payload, "root_cid")
	assert.NotContains(t, payload, "error_message")
	assert.NotContains(t, payload, "ens_tx_hash")
	assert.NotContains(t, payload, "completed_at")
}

func TestDeploymentPayloadIncludesSetFields(t *testing.T) {
	tx := "0xabc"
	msg := "clone failed"
	now := time.Now().UTC()
	d := &domain.Deployment{
		ID:           "dep-1",
		ProjectID:    "proj-1",
		Status:       domain.StatusFailed,
		Trigger:      domain.TriggerWebhook,
		CommitSHA:    "deadbeef",
		RootCID:      "bafyroot",
		ContentCID:   "bafycontent",
		ENSTxHash:    &tx,
		ErrorMessage: &msg,
		BuildLog:     "log text",
		CreatedAt:    now,
		CompletedAt:  &now,
	}

	payload := deploymentPayload(d)
	require.Contains(t, payload, "commit_sha")
	assert.Equal(t, "deadbeef", payload["commit_sha"])
	assert.Equal(t, "bafyroot", payload["root_cid"])
	assert.Equal(t, "bafycontent", payload["content_cid"])
	assert.Equal(t, "0xabc", payload["ens_tx_hash"])
	assert.Equal(t, "clone failed", payload["error_message"])
	assert.Equal(t, "log text", payload["build_log"])
	assert.Equal(t, now, payload["completed_at"])
}
