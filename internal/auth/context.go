package auth

import "context"

type subjectKey struct{}

// WithSubject stores the verified subject on ctx.
func WithSubject(ctx context.Context, sub string) context.Context {
	return context.WithValue(ctx, subjectKey{}, sub)
}

// SubjectFromContext returns the subject stored by WithSubject. An empty
// subject is reported as absent.
func SubjectFromContext(ctx context.Context) (string, bool) {
	sub, _ := ctx.Value(subjectKey{}).(string)
	return sub, sub != ""
}
