// SPDX-License-Identifier: MIT

// Package judge decides whether a video may play. Local rules and file
// lists always win; the LLM is the last resort and every ALLOW it
// produces passes a strict confidence gate.
package judge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/joeblack2k/sentinel-yt/internal/config"
	"github.com/joeblack2k/sentinel-yt/internal/lists"
	xlog "github.com/joeblack2k/sentinel-yt/internal/log"
	"github.com/joeblack2k/sentinel-yt/internal/policy"
	"github.com/joeblack2k/sentinel-yt/internal/store"
	"github.com/joeblack2k/sentinel-yt/internal/webhook"
)

// ErrFatal marks auth/quota class LLM failures that put the judge in a
// degraded state. ErrOutput marks unusable model output.
var (
	ErrFatal  = errors.New("judge: fatal llm error")
	ErrOutput = errors.New("judge: unusable llm output")
)

var fatalNeedles = []string{
	"401", "403", "429", "quota", "api key", "permission",
	"invalid argument", "unauthenticated", "api_key_invalid", "billing",
}

func isFatalMessage(msg string) bool {
	check := strings.ToLower(msg)
	for _, n := range fatalNeedles {
		if strings.Contains(check, n) {
			return true
		}
	}
	return false
}

// Verdict is one content decision.
type Verdict struct {
	Verdict    string `json:"verdict"` // "ALLOW" or "BLOCK"
	Reason     string `json:"reason"`
	Confidence int    `json:"confidence"`
	Source     string `json:"source"`
}

// VideoContext identifies the video under evaluation.
type VideoContext struct {
	VideoID      string `json:"video_id"`
	VideoURL     string `json:"video_url"`
	Title        string `json:"title"`
	ChannelID    string `json:"channel_id"`
	ChannelTitle string `json:"channel_title"`
}

// LLM generates a raw model response for a system prompt and video.
type LLM interface {
	Generate(ctx context.Context, apiKey, systemPrompt string, video VideoContext) (string, error)
}

// Service is the decision engine.
type Service struct {
	store     *store.Store
	cfg       *config.Settings
	webhooks  *webhook.Client
	blocklist *lists.Service
	allowlist *lists.Service
	llm       LLM
	log       zerolog.Logger
}

func NewService(st *store.Store, cfg *config.Settings, wh *webhook.Client, blocklist, allowlist *lists.Service, llm LLM) *Service {
	return &Service{
		store:     st,
		cfg:       cfg,
		webhooks:  wh,
		blocklist: blocklist,
		allowlist: allowlist,
		llm:       llm,
		log:       xlog.WithComponent("judge"),
	}
}

// EffectiveAPIKey prefers the runtime setting over the environment key.
func (s *Service) EffectiveAPIKey(ctx context.Context) string {
	runtime, _ := s.store.GetSetting(ctx, "gemini_api_key_runtime")
	if v := strings.TrimSpace(runtime); v != "" {
		return v
	}
	return strings.TrimSpace(s.cfg.GeminiAPIKey)
}

func (s *Service) setting(ctx context.Context, key, fallback string) string {
	v, err := s.store.GetSetting(ctx, key)
	if err != nil || v == "" {
		return fallback
	}
	return v
}

func (s *Service) geminiEnabled(ctx context.Context) bool {
	return strings.ToLower(strings.TrimSpace(s.setting(ctx, "gemini_enabled", "true"))) == "true"
}

// Evaluate runs the full precedence chain for one video.
// Mode is "blocklist" unless explicitly "whitelist".
func (s *Service) Evaluate(ctx context.Context, video VideoContext, enforcementMode string) (Verdict, error) {
	mode := "blocklist"
	if enforcementMode == "whitelist" {
		mode = "whitelist"
	}
	cacheKey := mode + ":" + video.VideoID

	// Explicit local blacklist always wins.
	if m, err := s.store.FindRuleMatch(ctx, video.VideoID, video.ChannelID, "blacklist"); err != nil {
		return Verdict{}, err
	} else if m != nil {
		return Verdict{
			Verdict:    "BLOCK",
			Reason:     fmt.Sprintf("Blocked by local blacklist (%s)", m.Scope),
			Confidence: 100,
			Source:     "blacklist",
		}, nil
	}

	if s.blocklist != nil {
		if m := s.blocklist.MatchIDs(video.VideoID, video.ChannelID); m != nil {
			return Verdict{
				Verdict:    "BLOCK",
				Reason:     fmt.Sprintf("Blocked by file blocklist (%s)", m.Scope),
				Confidence: 100,
				Source:     "file_blacklist",
			}, nil
		}
	}

	if mode == "whitelist" {
		return s.evaluateWhitelist(ctx, video, cacheKey)
	}
	return s.evaluateBlocklist(ctx, video, cacheKey)
}

func (s *Service) evaluateWhitelist(ctx context.Context, video VideoContext, cacheKey string) (Verdict, error) {
	if m, err := s.store.FindRuleMatch(ctx, video.VideoID, video.ChannelID, "whitelist"); err != nil {
		return Verdict{}, err
	} else if m != nil {
		return Verdict{
			Verdict:    "ALLOW",
			Reason:     fmt.Sprintf("Allowed by local whitelist (%s)", m.Scope),
			Confidence: 100,
			Source:     "whitelist",
		}, nil
	}
	if s.allowlist != nil {
		if m := s.allowlist.MatchIDs(video.VideoID, video.ChannelID); m != nil {
			return Verdict{
				Verdict:    "ALLOW",
				Reason:     fmt.Sprintf("Allowed by file whitelist (%s)", m.Scope),
				Confidence: 100,
				Source:     "file_whitelist",
			}, nil
		}
	}

	hay := policy.Haystack(video.Title, video.ChannelTitle, video.VideoURL)
	flags := policy.NormalizeAllowFlags(s.setting(ctx, "allow_policy_flags_json", "{}"))
	if label, ok := policy.MatchAllow(flags, hay); ok {
		return Verdict{
			Verdict:    "ALLOW",
			Reason:     fmt.Sprintf("Allowed by whitelist policy toggle %q", label),
			Confidence: 100,
			Source:     "policy_allowlist",
		}, nil
	}

	if cached, err := s.store.CacheGet(ctx, cacheKey); err != nil {
		return Verdict{}, err
	} else if cached != nil {
		return s.whitelistGate(s.gate(fromCache(cached), video)), nil
	}

	if !s.geminiEnabled(ctx) {
		return Verdict{
			Verdict:    "BLOCK",
			Reason:     "Whitelist mode: Gemini is disabled and no allowlist match was found.",
			Confidence: 100,
			Source:     "policy",
		}, nil
	}

	prompt := s.effectiveWhitelistPrompt(ctx)
	parsed, err := s.askLLM(ctx, prompt, video)
	if err != nil {
		return Verdict{}, err
	}
	s.cacheVerdict(ctx, cacheKey, parsed)
	return s.whitelistGate(s.gate(parsed, video)), nil
}

func (s *Service) evaluateBlocklist(ctx context.Context, video VideoContext, cacheKey string) (Verdict, error) {
	hay := policy.Haystack(video.Title, video.ChannelTitle, video.VideoURL)
	flags := policy.NormalizeBlockFlags(s.setting(ctx, "policy_flags_json", "{}"))
	if label, ok := policy.MatchBlock(flags, hay); ok {
		return Verdict{
			Verdict:    "BLOCK",
			Reason:     fmt.Sprintf("Blocked by policy toggle %q", label),
			Confidence: 100,
			Source:     "policy",
		}, nil
	}

	if cached, err := s.store.CacheGet(ctx, cacheKey); err != nil {
		return Verdict{}, err
	} else if cached != nil {
		return s.gate(fromCache(cached), video), nil
	}

	if !s.geminiEnabled(ctx) {
		return Verdict{
			Verdict:    "ALLOW",
			Reason:     "Gemini is disabled. Only local rules and blocklists are enforced.",
			Confidence: 0,
			Source:     "fallback",
		}, nil
	}

	prompt := s.effectivePrompt(ctx)
	parsed, err := s.askLLM(ctx, prompt, video)
	if err != nil {
		return Verdict{}, err
	}
	s.cacheVerdict(ctx, cacheKey, parsed)
	return s.gate(parsed, video), nil
}

// askLLM calls the model, retrying once with a repair suffix when the
// output cannot be parsed.
func (s *Service) askLLM(ctx context.Context, prompt string, video VideoContext) (Verdict, error) {
	key := s.EffectiveAPIKey(ctx)
	if key == "" {
		return Verdict{}, fmt.Errorf("%w: missing_gemini_key", ErrFatal)
	}
	raw, err := s.llm.Generate(ctx, key, prompt, video)
	if err != nil {
		return Verdict{}, classify(err)
	}
	parsed, perr := ParseOutput(raw)
	if perr == nil {
		return parsed, nil
	}
	repair := prompt + "\nReturn strict valid JSON exactly as requested."
	raw, err = s.llm.Generate(ctx, key, repair, video)
	if err != nil {
		return Verdict{}, classify(err)
	}
	return ParseOutput(raw)
}

func classify(err error) error {
	if errors.Is(err, ErrFatal) || errors.Is(err, ErrOutput) {
		return err
	}
	if isFatalMessage(err.Error()) {
		return fmt.Errorf("%w: %s", ErrFatal, err.Error())
	}
	return fmt.Errorf("%w: %s", ErrOutput, err.Error())
}

func fromCache(c *store.CachedVerdict) Verdict {
	v := Verdict{Verdict: c.Verdict, Reason: c.Reason, Confidence: c.Confidence, Source: c.Source}
	if v.Source == "" {
		v.Source = "gemini"
	}
	return v
}

func (s *Service) cacheVerdict(ctx context.Context, key string, v Verdict) {
	ttl := time.Duration(s.cfg.DecisionCacheTTLSeconds) * time.Second
	err := s.store.CacheSet(ctx, key, store.CachedVerdict{
		Verdict: v.Verdict, Reason: v.Reason, Confidence: v.Confidence, Source: v.Source,
	}, time.Now().Add(ttl))
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("verdict cache write failed")
	}
}

// gate applies the strict allow gate: low-confidence ALLOWs and
// clickbait-pattern titles become policy BLOCKs.
func (s *Service) gate(v Verdict, video VideoContext) Verdict {
	if v.Verdict != "ALLOW" {
		return v
	}
	minConf := s.cfg.StrictAllowMinConf
	if minConf < 0 {
		minConf = 0
	}
	if minConf > 100 {
		minConf = 100
	}
	if v.Confidence < minConf {
		return Verdict{
			Verdict:    "BLOCK",
			Reason:     fmt.Sprintf("Strict nanny mode: ALLOW confidence %d is below minimum %d.", v.Confidence, minConf),
			Confidence: 100,
			Source:     "policy",
		}
	}
	if policy.MatchStrictClickbait(policy.Haystack(video.Title, video.ChannelTitle, video.VideoURL)) {
		return Verdict{
			Verdict:    "BLOCK",
			Reason:     "Strict nanny mode: blocked by clickbait-animal safety filter.",
			Confidence: 100,
			Source:     "policy",
		}
	}
	return v
}

// whitelistGate rewrites non-ALLOW outcomes to a hard policy BLOCK.
func (s *Service) whitelistGate(v Verdict) Verdict {
	if v.Verdict == "ALLOW" {
		return v
	}
	reason := v.Reason
	if reason == "" {
		reason = "Whitelist mode: not in active allow profile."
	}
	source := v.Source
	if source == "" {
		source = "policy"
	}
	return Verdict{Verdict: "BLOCK", Reason: reason, Confidence: 100, Source: source}
}

func (s *Service) effectivePrompt(ctx context.Context) string {
	base := strings.TrimSpace(s.setting(ctx, "custom_prompt", ""))
	if base == "" {
		base = policy.DefaultSafePrompt
	}
	flags := policy.NormalizeBlockFlags(s.setting(ctx, "policy_flags_json", "{}"))
	if addon := policy.BuildBlockPromptAddon(flags); addon != "" {
		base = base + "\n\n" + addon
	}
	return base + policy.OutputContractSuffix
}

func (s *Service) effectiveWhitelistPrompt(ctx context.Context) string {
	base := strings.TrimSpace(s.setting(ctx, "custom_prompt", ""))
	if base == "" {
		base = policy.DefaultWhitelistPrompt
	}
	flags := policy.NormalizeAllowFlags(s.setting(ctx, "allow_policy_flags_json", "{}"))
	return base + "\n\n" + policy.BuildAllowPromptAddon(flags) + policy.OutputContractSuffix
}

// PromptPreview returns the fully assembled blocklist-mode system prompt.
func (s *Service) PromptPreview(ctx context.Context) string {
	return s.effectivePrompt(ctx)
}

// WhitelistPromptPreview returns the whitelist-mode system prompt.
func (s *Service) WhitelistPromptPreview(ctx context.Context) string {
	return s.effectiveWhitelistPrompt(ctx)
}

// HandleFatalFailure records the degraded state and fires the failure
// webhook at most once per five minutes.
func (s *Service) HandleFatalFailure(ctx context.Context, cause error) {
	message := cause.Error()
	_ = s.store.SetSetting(ctx, "judge_ok", "false")
	_ = s.store.SetSetting(ctx, "last_error", message)

	now := time.Now().UTC()
	shouldAlert := true
	if lastRaw, _ := s.store.GetSetting(ctx, "last_failure_alert_at"); lastRaw != "" {
		if last, err := time.Parse(time.RFC3339, lastRaw); err == nil && now.Sub(last) < 5*time.Minute {
			shouldAlert = false
		}
	}
	if !shouldAlert {
		return
	}
	if hook := s.setting(ctx, "failure_webhook_url", ""); hook != "" {
		active := s.setting(ctx, "active", "true") == "true"
		ok, detail := s.webhooks.PostJSON(ctx, hook, map[string]any{
			"event":     "sentinel_gemini_failure_degraded",
			"active":    active,
			"judge_ok":  false,
			"error":     message,
			"timestamp": now.Format(time.RFC3339),
		})
		if !ok {
			s.log.Warn().Str("detail", detail).Msg("failure webhook delivery failed")
		}
	}
	_ = s.store.SetSetting(ctx, "last_failure_alert_at", now.Format(time.RFC3339))
}
