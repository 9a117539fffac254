// SPDX-License-Identifier: MIT
package judge

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblack2k/sentinel-yt/internal/config"
	"github.com/joeblack2k/sentinel-yt/internal/store"
	"github.com/joeblack2k/sentinel-yt/internal/webhook"
)

type fakeLLM struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (f *fakeLLM) Generate(_ context.Context, _, systemPrompt string, _ VideoContext) (string, error) {
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, systemPrompt)
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return "", errors.New("no scripted response")
}

func newTestJudge(t *testing.T, llm LLM) (*Service, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "sentinel.db"), "UTC")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	cfg := &config.Settings{
		GeminiAPIKey:            "env-key",
		GeminiModel:             "gemini-2.0-flash",
		DecisionCacheTTLSeconds: 3600,
		StrictAllowMinConf:      95,
	}
	wh := webhook.NewClient(2 * time.Second)
	return NewService(st, cfg, wh, nil, nil, llm), st
}

func testVideo() VideoContext {
	return VideoContext{
		VideoID:      "dQw4w9WgXcQ",
		VideoURL:     "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		Title:        "Lego castle build timelapse",
		ChannelID:    "UCabcdefghijklmnopqrstuv",
		ChannelTitle: "Brick Builds",
	}
}

func TestBlacklistRuleWinsOverEverything(t *testing.T) {
	llm := &fakeLLM{}
	svc, st := newTestJudge(t, llm)
	ctx := context.Background()
	require.NoError(t, st.AddRule(ctx, store.Rule{RuleType: "blacklist", Scope: "video", Value: "dQw4w9WgXcQ"}))
	require.NoError(t, st.AddRule(ctx, store.Rule{RuleType: "whitelist", Scope: "video", Value: "dQw4w9WgXcQ"}))

	v, err := svc.Evaluate(ctx, testVideo(), "whitelist")
	require.NoError(t, err)
	assert.Equal(t, "BLOCK", v.Verdict)
	assert.Equal(t, "blacklist", v.Source)
	assert.Equal(t, 100, v.Confidence)
	assert.Zero(t, llm.calls)
}

func TestPolicyToggleBlocksWithoutLLM(t *testing.T) {
	llm := &fakeLLM{}
	svc, _ := newTestJudge(t, llm)
	video := testVideo()
	video.Title = "CoComelon songs marathon"

	v, err := svc.Evaluate(context.Background(), video, "blocklist")
	require.NoError(t, err)
	assert.Equal(t, "BLOCK", v.Verdict)
	assert.Equal(t, "policy", v.Source)
	assert.Contains(t, v.Reason, "policy toggle")
	assert.Zero(t, llm.calls)
}

func TestLLMAllowPassesStrictGate(t *testing.T) {
	llm := &fakeLLM{responses: []string{`{"verdict":"ALLOW","reason":"Calm educational content","confidence":98}`}}
	svc, _ := newTestJudge(t, llm)

	v, err := svc.Evaluate(context.Background(), testVideo(), "blocklist")
	require.NoError(t, err)
	assert.Equal(t, "ALLOW", v.Verdict)
	assert.Equal(t, "gemini", v.Source)
	assert.Equal(t, 98, v.Confidence)
	assert.Equal(t, 1, llm.calls)
}

func TestLowConfidenceAllowIsGated(t *testing.T) {
	llm := &fakeLLM{responses: []string{`{"verdict":"ALLOW","reason":"probably fine","confidence":80}`}}
	svc, _ := newTestJudge(t, llm)

	v, err := svc.Evaluate(context.Background(), testVideo(), "blocklist")
	require.NoError(t, err)
	assert.Equal(t, "BLOCK", v.Verdict)
	assert.Equal(t, "policy", v.Source)
	assert.Equal(t, 100, v.Confidence)
	assert.Contains(t, v.Reason, "below minimum 95")
}

func TestClickbaitNeedleGatesAllow(t *testing.T) {
	llm := &fakeLLM{responses: []string{`{"verdict":"ALLOW","reason":"animals","confidence":99}`}}
	svc, _ := newTestJudge(t, llm)
	video := testVideo()
	video.Title = "Cute Baby Monkey compilation"

	v, err := svc.Evaluate(context.Background(), video, "blocklist")
	require.NoError(t, err)
	assert.Equal(t, "BLOCK", v.Verdict)
	assert.Contains(t, v.Reason, "clickbait-animal")
}

func TestVerdictIsCachedPerMode(t *testing.T) {
	llm := &fakeLLM{responses: []string{`{"verdict":"ALLOW","reason":"fine","confidence":97}`}}
	svc, st := newTestJudge(t, llm)
	ctx := context.Background()

	v, err := svc.Evaluate(ctx, testVideo(), "blocklist")
	require.NoError(t, err)
	assert.Equal(t, "ALLOW", v.Verdict)

	// Second evaluation is served from cache.
	v, err = svc.Evaluate(ctx, testVideo(), "blocklist")
	require.NoError(t, err)
	assert.Equal(t, "ALLOW", v.Verdict)
	assert.Equal(t, 1, llm.calls)

	cached, err := st.CacheGet(ctx, "blocklist:dQw4w9WgXcQ")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "ALLOW", cached.Verdict)
}

func TestOutputRepairRetry(t *testing.T) {
	llm := &fakeLLM{responses: []string{
		"sorry, here is my analysis without json",
		`{"verdict":"BLOCK","reason":"scary","confidence":90}`,
	}}
	svc, _ := newTestJudge(t, llm)

	v, err := svc.Evaluate(context.Background(), testVideo(), "blocklist")
	require.NoError(t, err)
	assert.Equal(t, "BLOCK", v.Verdict)
	assert.Equal(t, 2, llm.calls)
	assert.Contains(t, llm.prompts[1], "Return strict valid JSON")
}

func TestFatalErrorClassification(t *testing.T) {
	llm := &fakeLLM{errs: []error{errors.New("429 RESOURCE_EXHAUSTED: quota exceeded")}}
	svc, _ := newTestJudge(t, llm)

	_, err := svc.Evaluate(context.Background(), testVideo(), "blocklist")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFatal)
}

func TestMissingKeyIsFatal(t *testing.T) {
	llm := &fakeLLM{}
	svc, _ := newTestJudge(t, llm)
	svc.cfg.GeminiAPIKey = ""

	_, err := svc.Evaluate(context.Background(), testVideo(), "blocklist")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFatal)
	assert.Zero(t, llm.calls)
}

func TestGeminiDisabledFallbacks(t *testing.T) {
	llm := &fakeLLM{}
	svc, st := newTestJudge(t, llm)
	ctx := context.Background()
	require.NoError(t, st.SetSetting(ctx, "gemini_enabled", "false"))

	v, err := svc.Evaluate(ctx, testVideo(), "blocklist")
	require.NoError(t, err)
	assert.Equal(t, "ALLOW", v.Verdict)
	assert.Equal(t, "fallback", v.Source)
	assert.Equal(t, 0, v.Confidence)

	v, err = svc.Evaluate(ctx, testVideo(), "whitelist")
	require.NoError(t, err)
	assert.Equal(t, "BLOCK", v.Verdict)
	assert.Equal(t, "policy", v.Source)
	assert.Equal(t, 100, v.Confidence)
	assert.Zero(t, llm.calls)
}

func TestWhitelistPolicyToggleAllows(t *testing.T) {
	llm := &fakeLLM{}
	svc, _ := newTestJudge(t, llm)
	video := testVideo()
	video.Title = "Rugrats full episode"

	v, err := svc.Evaluate(context.Background(), video, "whitelist")
	require.NoError(t, err)
	assert.Equal(t, "ALLOW", v.Verdict)
	assert.Equal(t, "policy_allowlist", v.Source)
	assert.Zero(t, llm.calls)
}

func TestWhitelistModeHardensLLMBlock(t *testing.T) {
	llm := &fakeLLM{responses: []string{`{"verdict":"BLOCK","reason":"not in profile","confidence":60}`}}
	svc, _ := newTestJudge(t, llm)

	v, err := svc.Evaluate(context.Background(), testVideo(), "whitelist")
	require.NoError(t, err)
	assert.Equal(t, "BLOCK", v.Verdict)
	assert.Equal(t, 100, v.Confidence)
}

func TestEffectiveAPIKeyPrefersRuntime(t *testing.T) {
	svc, st := newTestJudge(t, &fakeLLM{})
	ctx := context.Background()
	assert.Equal(t, "env-key", svc.EffectiveAPIKey(ctx))

	require.NoError(t, st.SetSetting(ctx, "gemini_api_key_runtime", "  runtime-key  "))
	assert.Equal(t, "runtime-key", svc.EffectiveAPIKey(ctx))
}

func TestPromptPreviewIncludesAddonsAndContract(t *testing.T) {
	svc, st := newTestJudge(t, &fakeLLM{})
	ctx := context.Background()

	p := svc.PromptPreview(ctx)
	assert.Contains(t, p, "Strict policy overrides enabled by admin toggles:")
	assert.Contains(t, p, "Return ONLY valid JSON")

	require.NoError(t, st.SetSetting(ctx, "custom_prompt", "Custom base prompt."))
	p = svc.PromptPreview(ctx)
	assert.Contains(t, p, "Custom base prompt.")

	wp := svc.WhitelistPromptPreview(ctx)
	assert.Contains(t, wp, "Allow profile categories enabled by admin toggles:")
}

func TestHandleFatalFailureThrottlesWebhook(t *testing.T) {
	svc, st := newTestJudge(t, &fakeLLM{})
	ctx := context.Background()

	svc.HandleFatalFailure(ctx, fmt.Errorf("quota exceeded"))
	ok, err := st.GetSetting(ctx, "judge_ok")
	require.NoError(t, err)
	assert.Equal(t, "false", ok)
	first, err := st.GetSetting(ctx, "last_failure_alert_at")
	require.NoError(t, err)
	require.NotEmpty(t, first)

	// A second failure inside the window keeps the alert timestamp.
	svc.HandleFatalFailure(ctx, fmt.Errorf("still broken"))
	second, err := st.GetSetting(ctx, "last_failure_alert_at")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestParseOutputVariants(t *testing.T) {
	v, err := ParseOutput("Here you go:\n```json\n{\"verdict\":\"ALLOW\",\"reason\":\"\",\"confidence\":150}\n```")
	require.NoError(t, err)
	assert.Equal(t, "ALLOW", v.Verdict)
	assert.Equal(t, "No reason provided", v.Reason)
	assert.Equal(t, 100, v.Confidence)

	_, err = ParseOutput("")
	assert.ErrorIs(t, err, ErrOutput)

	_, err = ParseOutput(`{"verdict":"MAYBE","reason":"x","confidence":50}`)
	assert.ErrorIs(t, err, ErrOutput)

	_, err = ParseOutput(`{"verdict":"ALLOW","reason":"x","confidence":"high"}`)
	assert.ErrorIs(t, err, ErrOutput)

	v, err = ParseOutput(`{"verdict":"BLOCK","reason":"x","confidence":"88"}`)
	require.NoError(t, err)
	assert.Equal(t, 88, v.Confidence)
}
