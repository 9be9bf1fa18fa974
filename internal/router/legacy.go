package router

import (
	"net/url"
	"sort"
	"strings"
)

// legacyPages maps old ?p= page names to current path aliases. Names not
// listed pass through unchanged.
var legacyPages = map[string]string{
	"status":      "status",
	"admin":       "manage",
	"events":      "events",
	"display":     "display",
	"poster":      "poster",
	"public":      "public",
	"sponsor":     "sponsors",
	"config":      "config",
	"reports":     "reports",
	"diagnostics": "diagnostics",
}

// LegacyRedirect translates an old-style ?p=<page>&tenant=<id> URL (or
// ?page=) into the brand-scoped path form. It returns "" when query is not a
// legacy URL. Other parameters are kept in sorted order.
func LegacyRedirect(query url.Values) string {
	old := query.Get("p")
	if old == "" {
		old = query.Get("page")
	}
	tenant := query.Get("tenant")
	if old == "" || tenant == "" {
		return ""
	}

	rest := url.Values{}
	for k, vs := range query {
		if k == "p" || k == "page" || k == "tenant" {
			continue
		}
		rest[k] = vs
	}

	var target string
	if old == "status" {
		target = "/status"
		rest.Set("brand", tenant)
	} else {
		mapped, ok := legacyPages[old]
		if !ok {
			mapped = old
		}
		target = "/" + url.PathEscape(tenant) + "/" + url.PathEscape(mapped)
	}

	if len(rest) == 0 {
		return target
	}
	return target + "?" + encodeSorted(rest)
}

func encodeSorted(v url.Values) string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		for _, val := range v[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(val))
		}
	}
	return b.String()
}
