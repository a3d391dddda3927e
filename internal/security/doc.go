// Package security implements the request security pipeline that runs
// before any routing: session attachment, hardening headers, the
// parameter-pollution guard and the origin policy, always in that order.
//
//	pipeline, err := security.NewPipeline(cfg)
//	if err != nil {
//	    return err
//	}
//	handler := pipeline.Then(mux)
//
// Sessions are stored client-side in a signed cookie. New cookies are
// signed with the first configured key; every configured key is accepted
// when verifying, so keys can be rotated by prepending a new one.
package security
