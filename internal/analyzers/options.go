package analyzers

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cast"

	"github.com/sells-group/genomesim/internal/analysis"
	"github.com/sells-group/genomesim/internal/model"
)

// Option values arrive from YAML, environment variables or Go callers, so
// they are converted with cast rather than asserted.

func optInt(opts analysis.Options, key string, def int) (int, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return def, nil
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, eris.Wrapf(model.ErrValidation, "option %s: %v", key, err)
	}
	return n, nil
}

func optFloat(opts analysis.Options, key string, def float64) (float64, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return def, nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, eris.Wrapf(model.ErrValidation, "option %s: %v", key, err)
	}
	return f, nil
}

func optBool(opts analysis.Options, key string, def bool) (bool, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return def, nil
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, eris.Wrapf(model.ErrValidation, "option %s: %v", key, err)
	}
	return b, nil
}

func optString(opts analysis.Options, key, def string) (string, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return def, nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", eris.Wrapf(model.ErrValidation, "option %s: %v", key, err)
	}
	return s, nil
}

func optStringMap(opts analysis.Options, key string, def map[string]string) (map[string]string, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return def, nil
	}
	m, err := cast.ToStringMapStringE(v)
	if err != nil {
		return nil, eris.Wrapf(model.ErrValidation, "option %s: %v", key, err)
	}
	return m, nil
}

func optMode(opts analysis.Options, key string, def model.CombineMode) (model.CombineMode, error) {
	s, err := optString(opts, key, string(def))
	if err != nil {
		return "", err
	}
	mode, err := model.ParseCombineMode(s)
	if err != nil {
		return "", eris.Wrapf(err, "option %s", key)
	}
	return mode, nil
}

func inUnit(key string, v float64) error {
	if v < 0 || v > 1 {
		return eris.Wrapf(model.ErrValidation, "option %s must be in [0, 1], got %v", key, v)
	}
	return nil
}
