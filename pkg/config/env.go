package config

import (
	"fmt"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sockcomm/sockcomm-go/pkg/errs"
)

// envSeparator separates the path segments of an override name.
const envSeparator = "__"

// ApplyEnv applies SOCKCOMM_<SECTION>__<FIELD>=value overrides from environ
// (os.Environ format). Names are matched case-insensitively against the
// YAML keys; values are parsed as YAML scalars, so durations are written
// as "1m30s". Prefixed names without a section separator are ignored.
func (c *Config) ApplyEnv(environ []string) error {
	prefix := EnvPrefix + "_"
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(strings.ToUpper(name), prefix) {
			continue
		}
		rest := name[len(prefix):]
		if !strings.Contains(rest, envSeparator) {
			continue
		}

		path := strings.Split(strings.ToLower(rest), envSeparator)
		if err := setPath(reflect.ValueOf(c).Elem(), path, value); err != nil {
			return errs.Configuration("config: env "+name, err)
		}
	}
	return nil
}

// setPath assigns value to the field addressed by path inside struct v.
func setPath(v reflect.Value, path []string, value string) error {
	field, ok := fieldByKey(v, path[0])
	if !ok {
		return fmt.Errorf("unknown key %q", path[0])
	}
	rest := path[1:]

	switch field.Kind() {
	case reflect.Struct:
		if len(rest) == 0 {
			return fmt.Errorf("%q is a section", path[0])
		}
		return setPath(field, rest, value)

	case reflect.Map:
		if len(rest) != 1 || field.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("%q needs exactly one map key", path[0])
		}
		if field.IsNil() {
			field.Set(reflect.MakeMap(field.Type()))
		}
		elem := reflect.New(field.Type().Elem()).Elem()
		if err := setScalar(elem, value); err != nil {
			return err
		}
		field.SetMapIndex(reflect.ValueOf(rest[0]).Convert(field.Type().Key()), elem)
		return nil

	default:
		if len(rest) != 0 {
			return fmt.Errorf("%q has no nested keys", path[0])
		}
		return setScalar(field, value)
	}
}

// setScalar parses value into v. Strings are taken verbatim.
func setScalar(v reflect.Value, value string) error {
	if v.Kind() == reflect.String {
		v.SetString(value)
		return nil
	}
	if err := yaml.Unmarshal([]byte(value), v.Addr().Interface()); err != nil {
		return err
	}
	return nil
}

// fieldByKey finds the field of struct v whose YAML key is key, looking
// through inline fields.
func fieldByKey(v reflect.Value, key string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(sf.Tag.Get("yaml"), ",")
		if name == "-" {
			continue
		}
		if strings.Contains(opts, "inline") {
			if f, ok := fieldByKey(v.Field(i), key); ok {
				return f, true
			}
			continue
		}
		if name == "" {
			name = strings.ToLower(sf.Name)
		}
		if name == key {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}
