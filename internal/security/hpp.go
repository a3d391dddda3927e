package security

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

type pollutedKey struct{}

// PollutedQuery returns the query values dropped by the parameter
// pollution guard, keyed by parameter name. Nil when nothing was dropped.
func PollutedQuery(ctx context.Context) url.Values {
	v, _ := ctx.Value(pollutedKey{}).(url.Values)
	return v
}

// ParameterPollution returns the parameter-pollution guard. Every query
// key repeated in the request keeps only its first value, except keys in
// whitelist, which keep all of them. When anything was dropped the raw
// query is rebuilt without the later occurrences of the repeated keys and
// every other pair is kept byte for byte. A query that does not parse is
// passed through untouched.
func ParameterPollution(whitelist []string, metrics *Metrics) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(whitelist))
	for _, k := range whitelist {
		allowed[k] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.RawQuery == "" {
				next.ServeHTTP(w, r)
				return
			}

			query, err := url.ParseQuery(r.URL.RawQuery)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			polluted := collapse(query, allowed)
			if polluted == nil {
				next.ServeHTTP(w, r)
				return
			}

			if metrics != nil {
				metrics.pollutedRequests.Inc()
			}

			u := *r.URL
			u.RawQuery = dropRepeated(r.URL.RawQuery, polluted)
			r2 := r.WithContext(context.WithValue(r.Context(), pollutedKey{}, polluted))
			r2.URL = &u

			next.ServeHTTP(w, r2)
		})
	}
}

// collapse keeps the first value of every repeated key in place and
// returns the dropped values, or nil when there were none.
func collapse(query url.Values, allowed map[string]struct{}) url.Values {
	var polluted url.Values
	for key, values := range query {
		if len(values) < 2 {
			continue
		}
		if _, ok := allowed[key]; ok {
			continue
		}
		if polluted == nil {
			polluted = make(url.Values)
		}
		polluted[key] = values[1:]
		query[key] = values[:1]
	}
	return polluted
}

// dropRepeated removes every occurrence after the first of the keys in
// polluted from the raw query. The query must already have parsed.
func dropRepeated(rawQuery string, polluted url.Values) string {
	seen := make(map[string]struct{}, len(polluted))
	kept := make([]string, 0, strings.Count(rawQuery, "&")+1)
	for _, pair := range strings.Split(rawQuery, "&") {
		name, _, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(name)
		if err != nil {
			kept = append(kept, pair)
			continue
		}
		if _, ok := polluted[key]; ok {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		kept = append(kept, pair)
	}
	return strings.Join(kept, "&")
}
