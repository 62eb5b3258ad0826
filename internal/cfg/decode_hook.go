package cfg

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// decodeHook validates string fields against the small closed vocabularies
// this Config uses (log severity, log format) at unmarshal time, the way
// the upstream gcsfuse cfg package's decode_hook.go validates its own
// enum-like string fields before they reach Validate.
func decodeHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String {
			return data, nil
		}
		s, _ := data.(string)

		switch to {
		case reflect.TypeOf(LogConfig{}.Severity):
			v := strings.ToLower(s)
			switch v {
			case "debug", "info", "warn", "error", "":
				return v, nil
			default:
				return nil, fmt.Errorf("cfg: invalid log severity %q", s)
			}
		case reflect.TypeOf(LogConfig{}.Format):
			v := strings.ToLower(s)
			switch v {
			case "text", "json", "":
				return v, nil
			default:
				return nil, fmt.Errorf("cfg: invalid log format %q", s)
			}
		}
		return data, nil
	}
}

// DecodeHook is passed to viper.DecodeHook so config files and flags are
// decoded through decodeHook alongside viper's own defaults.
func DecodeHook() mapstructure.DecodeHookFunc {
	return decodeHook()
}
