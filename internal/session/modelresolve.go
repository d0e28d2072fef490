package session

import (
	"fmt"
	"strings"
)

// envFallbackForModel maps a model name to its env-var pair by
// case-insensitive substring match, grounded on _env_fallback_for_model:
// names containing "deepseek" use DEEPSEEK_API_URL/KEY, names containing
// "qwen3-vl-8b-instruct" use QWEN3_VL_8B_API_URL/KEY.
func envFallbackForModel(env EnvLookup, modelName string) (baseURL, apiKey string) {
	m := strings.ToLower(strings.TrimSpace(modelName))
	switch {
	case strings.Contains(m, "deepseek"):
		return strings.TrimSpace(env("DEEPSEEK_API_URL")), strings.TrimSpace(env("DEEPSEEK_API_KEY"))
	case strings.HasPrefix(m, "qwen3-vl-8b-instruct"), strings.Contains(m, "qwen3-vl-8b-instruct"):
		return strings.TrimSpace(env("QWEN3_VL_8B_API_URL")), strings.TrimSpace(env("QWEN3_VL_8B_API_KEY"))
	default:
		return "", ""
	}
}

// ResolveDefaultModelOverride resolves a named (non-custom) model's
// override: first consulting the config-file sub-table (always a miss
// in this build, see ModelConfigLookup), then falling back to the
// model-prefixed environment variables — grounded on
// _resolve_default_model_override.
func ResolveDefaultModelOverride(env EnvLookup, modelCfgTable ModelConfigLookup, modelName string) (*ModelOverride, error) {
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		return nil, fmt.Errorf("session: default model name is empty")
	}

	cfg := modelCfgTable(modelName)
	baseURL := normURL(strAt(cfg, "base_url"))
	apiKey := strAt(cfg, "api_key")

	if baseURL == "" || apiKey == "" {
		envURL, envKey := envFallbackForModel(env, modelName)
		if baseURL == "" {
			baseURL = normURL(envURL)
		}
		if apiKey == "" {
			apiKey = envKey
		}
	}

	if baseURL == "" || apiKey == "" {
		return nil, fmt.Errorf(
			"cannot find base_url/api_key for default model %q: set it in config or via "+
				"DEEPSEEK_API_URL/DEEPSEEK_API_KEY or QWEN3_VL_8B_API_URL/QWEN3_VL_8B_API_KEY", modelName)
	}

	return &ModelOverride{Model: modelName, BaseURL: baseURL, APIKey: apiKey}, nil
}

func normURL(u string) string {
	u = strings.TrimSpace(u)
	return strings.TrimRight(u, "/")
}

func strAt(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	v, _ := m[key].(string)
	return strings.TrimSpace(v)
}

// StableKey returns a deterministic identity for a model override
// pair, used to decide whether ensureAgent must rebuild the agent,
// grounded on _stable_dict_key.
func StableKey(llm, vlm *ModelOverride) string {
	return fmt.Sprintf("llm=%+v|vlm=%+v", llm, vlm)
}

// EnsureAgent resolves the effective LLM and VLM overrides (session
// custom, or derived from config/env by model key) and reports
// whether the (llm, vlm) pair changed since the last build, so the
// caller knows whether to reconstruct its agent.
func (s *Session) EnsureAgent() (llm, vlm *ModelOverride, rebuilt bool, err error) {
	if s.ChatModelKey == CustomModelKey {
		if s.customLLM == nil {
			return nil, nil, false, fmt.Errorf("session: please fill in model/base_url/api_key of custom LLM")
		}
		llm = s.customLLM
	} else {
		llm, err = ResolveDefaultModelOverride(s.env, s.modelCfgTable, s.ChatModelKey)
		if err != nil {
			return nil, nil, false, err
		}
	}

	if s.VLMModelKey == CustomModelKey {
		if s.customVLM == nil {
			return nil, nil, false, fmt.Errorf("session: please fill in model/base_url/api_key of custom VLM")
		}
		vlm = s.customVLM
	} else {
		vlm, err = ResolveDefaultModelOverride(s.env, s.modelCfgTable, s.VLMModelKey)
		if err != nil {
			return nil, nil, false, err
		}
	}

	key := StableKey(llm, vlm)
	if !s.agentBuilt || key != s.agentBuildKey {
		s.agentBuildKey = key
		s.agentBuilt = true
		return llm, vlm, true, nil
	}
	return llm, vlm, false, nil
}
