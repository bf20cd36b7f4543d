package manifest

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"sync"

	validatorV10 "github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
)

// idPattern validates plugin ids.
var idPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// versionPattern validates plugin versions.
var versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.]+)?$`)

var (
	validatorOnce sync.Once
	validator     *validatorV10.Validate
)

func getValidator() *validatorV10.Validate {
	validatorOnce.Do(func() {
		v := validatorV10.New()
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return fld.Name
			}
			return name
		})
		_ = v.RegisterValidation("plugin_id", func(fl validatorV10.FieldLevel) bool {
			return idPattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("plugin_version", func(fl validatorV10.FieldLevel) bool {
			return versionPattern.MatchString(fl.Field().String())
		})
		validator = v
	})
	return validator
}

func validationMessage(fe validatorV10.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "plugin_id":
		return fmt.Sprintf("%q must match %s", fe.Value(), idPattern.String())
	case "plugin_version":
		return fmt.Sprintf("%q must match %s", fe.Value(), versionPattern.String())
	default:
		return fmt.Sprintf("failed validation for tag '%s'", fe.Tag())
	}
}

// fieldPath strips the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// Result is the outcome of validating a manifest.
type Result struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// Err joins the validation errors, or returns nil when the manifest is valid.
func (r Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return errors.New(strings.Join(r.Errors, "; "))
}

// Validate checks a manifest read from dir. Entry points are resolved
// against dir on fsys.
func Validate(fsys afero.Fs, m *Manifest, dir string) Result {
	var res Result
	if m == nil {
		res.Errors = append(res.Errors, "manifest is nil")
		return res
	}

	if err := getValidator().Struct(m); err != nil {
		var verrs validatorV10.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				res.Errors = append(res.Errors, fieldPath(fe.Namespace())+" "+validationMessage(fe))
			}
		} else {
			res.Errors = append(res.Errors, err.Error())
		}
	}

	for _, ep := range []struct{ field, rel string }{{"main", m.Main}, {"renderer", m.Renderer}} {
		if ep.rel == "" {
			continue
		}
		if msg := checkEntryPoint(fsys, dir, ep.field, ep.rel); msg != "" {
			res.Errors = append(res.Errors, msg)
		}
	}

	if m.Description == "" {
		res.Warnings = append(res.Warnings, "description is missing")
	}
	if m.Author == "" {
		res.Warnings = append(res.Warnings, "author is missing")
	}
	if m.Repository == "" {
		res.Warnings = append(res.Warnings, "repository is missing")
	}
	if m.License == "" {
		res.Warnings = append(res.Warnings, "license is missing")
	}
	if m.Main == "" && m.Renderer == "" {
		res.Warnings = append(res.Warnings, "neither main nor renderer entry point is declared")
	}
	for _, e := range m.ActivationEvents {
		if !IsKnownActivationEvent(e) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("unknown activation event %q", e))
		}
	}
	for i, st := range m.Contributes.Settings {
		if st.Type != "" && !IsKnownSettingType(st.Type) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("contributes.settings[%d].type %q is not a known setting type", i, st.Type))
		}
	}
	for _, p := range m.Permissions {
		if !IsKnownPermission(Permission(p)) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("unknown permission %q", p))
		}
	}

	res.Valid = len(res.Errors) == 0
	return res
}

// checkEntryPoint returns an error message, or "" when the entry point is usable.
func checkEntryPoint(fsys afero.Fs, dir, field, rel string) string {
	if filepath.IsAbs(rel) {
		return fmt.Sprintf("%s must be a relative path, got %q", field, rel)
	}
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Sprintf("%s must stay inside the plugin directory, got %q", field, rel)
	}
	exists, err := afero.Exists(fsys, filepath.Join(dir, clean))
	if err != nil {
		return fmt.Sprintf("%s entry point %q could not be checked: %v", field, rel, err)
	}
	if !exists {
		return fmt.Sprintf("%s entry point not found: %s", field, rel)
	}
	return ""
}
