package registry

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ExecuteCommand runs the handler bound to id. A panicking handler is
// reported as an error.
func (r *Registry) ExecuteCommand(ctx context.Context, id string, args ...any) (result any, err error) {
	cmd, ok := r.Command(id)
	if !ok {
		r.metrics.IncCommand("not_found")
		return nil, fmt.Errorf("%w: %s", ErrCommandNotFound, id)
	}
	if cmd.Handler == nil {
		r.metrics.IncCommand("no_handler")
		return nil, fmt.Errorf("%w: %s", ErrCommandHasNoHandler, id)
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("command %s panicked: %v", id, p)
		}
		if err != nil {
			r.logger.Warn("command failed",
				zap.String("command", id),
				zap.String("plugin", cmd.PluginID),
				zap.Error(err))
			r.metrics.IncCommand("error")
			return
		}
		r.metrics.IncCommand("ok")
	}()

	return cmd.Handler(ctx, args...)
}

// ValidationReport aggregates the issues of every task validator.
type ValidationReport struct {
	Valid  bool
	Issues []Issue
}

// ValidateTask runs every task validator with a handler against task. A
// validator that fails contributes an error issue; the others still run.
func (r *Registry) ValidateTask(ctx context.Context, task Task) ValidationReport {
	report := ValidationReport{Valid: true}
	for _, v := range r.TaskValidators() {
		if v.Validate == nil {
			continue
		}
		issues, err := callValidator(ctx, v, task)
		if err != nil {
			r.logger.Warn("task validator failed",
				zap.String("validator", v.ID),
				zap.String("plugin", v.PluginID),
				zap.Error(err))
			issues = []Issue{{Message: err.Error(), Severity: SeverityError}}
		}
		for _, is := range issues {
			if is.ValidatorID == "" {
				is.ValidatorID = v.ID
			}
			if is.Severity == "" {
				is.Severity = SeverityError
			}
			if is.Severity == SeverityError {
				report.Valid = false
			}
			report.Issues = append(report.Issues, is)
		}
	}
	return report
}

func callValidator(ctx context.Context, v TaskValidator, task Task) (issues []Issue, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("validator %s panicked: %v", v.ID, p)
		}
	}()
	return v.Validate(ctx, task)
}

// AnalyzeTask runs the analyzer registered under id.
func (r *Registry) AnalyzeTask(ctx context.Context, id string, task Task) (result any, err error) {
	a, ok := r.TaskAnalyzer(id)
	if !ok {
		return nil, fmt.Errorf("task analyzer %s: not found", id)
	}
	if a.Analyze == nil {
		return nil, fmt.Errorf("task analyzer %s: no handler", id)
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("analyzer %s panicked: %v", id, p)
		}
	}()
	return a.Analyze(ctx, task)
}

// ContextEntry is the output of one context provider.
type ContextEntry struct {
	ProviderID string
	PluginID   string
	Data       any
}

// CollectContext runs context providers by descending priority. Providers
// that fail are logged and skipped.
func (r *Registry) CollectContext(ctx context.Context) []ContextEntry {
	var out []ContextEntry
	for _, p := range r.ContextProviders() {
		if p.Provide == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			break
		}
		data, err := callProvider(ctx, p)
		if err != nil {
			r.logger.Warn("context provider failed",
				zap.String("provider", p.ID),
				zap.String("plugin", p.PluginID),
				zap.Error(err))
			continue
		}
		out = append(out, ContextEntry{ProviderID: p.ID, PluginID: p.PluginID, Data: data})
	}
	return out
}

func callProvider(ctx context.Context, p ContextProvider) (data any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("provider %s panicked: %v", p.ID, rec)
		}
	}()
	return p.Provide(ctx)
}
