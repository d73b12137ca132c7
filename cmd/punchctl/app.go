package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"attendance-punch/internal/credential"
	"attendance-punch/internal/lifecycle"
	"attendance-punch/internal/punch"
	"attendance-punch/internal/store"
)

// submitter is the part of punch.Submitter the tool drives.
type submitter interface {
	LoadCredentials(ctx context.Context) credential.Set
	Submit(ctx context.Context, action punch.Action, creds credential.Set) punch.Outcome
	Evaluator() credential.Evaluator
}

// app carries the dependencies of every command.
type app struct {
	store     store.Store
	submitter submitter
	out       io.Writer
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

// punch submits one action and prints the outcome.
func (a *app) punch(ctx context.Context, action punch.Action) int {
	out := a.submitter.Submit(ctx, action, a.submitter.LoadCredentials(ctx))
	if err := a.store.RecordPunch(ctx, out.Record()); err != nil {
		a.printf("Warning: cannot record punch history: %v\n", err)
	}

	if out.Success() {
		a.printf("%s successful!\n", capitalize(action.String()))
		if payload, err := json.Marshal(out.Payload); err == nil {
			a.printf("Response: %s\n", payload)
		}
		return 0
	}

	a.printf("Punch failed!\n")
	a.printf("Outcome: %s\n", out.Tag)
	a.printf("Error: %s\n", out.Detail)
	if out.CredentialProblem {
		a.printf("Bearer token needs renewal. To fix:\n")
		for i, step := range lifecycle.Remediation {
			a.printf("%d. %s\n", i+1, step)
		}
	}
	return 1
}

// analyze prints the bearer token's timing claims. It fails when the token
// is not usable.
func (a *app) analyze(ctx context.Context) int {
	ev := a.submitter.Evaluator()
	creds := a.submitter.LoadCredentials(ctx)

	a.printf("JWT Token Analysis\n")
	a.printf("==================\n")

	token, ok := ev.Bearer(creds)
	if !ok {
		a.printf("No %s found\n", ev.BearerName)
		return 1
	}
	a.printf("Token (first 50 chars): %s...\n\n", truncate(token, 50))

	st := ev.Inspect(creds)
	if !st.Decodable {
		a.printf("Failed to decode token payload: %s\n", st.Error)
		return 1
	}
	if st.ExpiresAt == nil {
		a.printf("No expiration time found\n")
	} else {
		a.printf("Expires at: %s\n", st.ExpiresAt.Local().Format(time.DateTime))
		if st.Expired {
			a.printf("Status: EXPIRED\n")
		} else {
			a.printf("Status: Valid (expires in %s)\n", hoursMinutes(st.Remaining))
		}
	}
	if st.IssuedAt != nil {
		a.printf("Issued at: %s\n", st.IssuedAt.Local().Format(time.DateTime))
	}

	if st.Expired {
		return 1
	}
	return 0
}

// update stores a new bearer token and, when test is set, submits a
// check-in to confirm it works. An empty store is seeded with the default
// cookie bundle so the other session cookies keep being sent.
func (a *app) update(ctx context.Context, token string, test bool) int {
	ev := a.submitter.Evaluator()
	set := a.submitter.LoadCredentials(ctx).WithBearer(ev.BearerName, token)
	if err := a.store.SaveCredentials(ctx, set); err != nil {
		a.printf("Failed to update session cookie: %v\n", err)
		return 1
	}
	a.printf("Session cookie updated successfully!\n")

	if st := ev.Inspect(credential.Set{ev.BearerName: token}); st.Expired {
		a.printf("Warning: the new token is not usable (%s)\n", describe(st))
	}
	if !test {
		return 0
	}

	a.printf("Testing updated cookie...\n")
	out := a.submitter.Submit(ctx, punch.CheckIn, a.submitter.LoadCredentials(ctx))
	if err := a.store.RecordPunch(ctx, out.Record()); err != nil {
		a.printf("Warning: cannot record punch history: %v\n", err)
	}
	if out.Success() {
		a.printf("Cookie update successful! Attendance system is working.\n")
		return 0
	}
	a.printf("Cookie updated but test failed. Please check the cookie value.\n")
	a.printf("Error: %s\n", out.Detail)
	return 1
}

// importCookies replaces the stored bundle with a flat JSON object of
// cookie names to values.
func (a *app) importCookies(ctx context.Context, path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		a.printf("Cannot read %s: %v\n", path, err)
		return 1
	}
	var set credential.Set
	if err := json.Unmarshal(data, &set); err != nil {
		a.printf("Cannot parse %s: %v\n", path, err)
		return 1
	}
	if len(set) == 0 {
		a.printf("%s holds no cookies\n", path)
		return 1
	}
	if err := a.store.SaveCredentials(ctx, set); err != nil {
		a.printf("Failed to import cookies: %v\n", err)
		return 1
	}

	ev := a.submitter.Evaluator()
	a.printf("Imported %d cookies from %s\n", len(set), path)
	a.printf("Bearer token: %s\n", describe(ev.Inspect(set)))
	return 0
}

func describe(st credential.Status) string {
	switch {
	case !st.Present:
		return "missing"
	case !st.Decodable || st.ExpiresAt == nil:
		return st.Error
	case st.Expired:
		return "expired at " + st.ExpiresAt.Local().Format(time.DateTime)
	default:
		return "valid for " + hoursMinutes(st.Remaining)
	}
}

func hoursMinutes(d time.Duration) string {
	d = d.Truncate(time.Minute)
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}
