package variables

import (
	"fmt"
	"strconv"
	"time"
)

// Get returns the value of a built-in variable.
func Get(name string, ctx *Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if prefix, suffix, ok := ParseDynamic(name); ok {
		return getDynamic(prefix, suffix, ctx)
	}

	switch name {
	case "request_id":
		return ctx.RequestID, true
	case "environment":
		return ctx.Environment, true
	case "brand":
		return ctx.Brand, true
	case "kind":
		return ctx.Kind, true
	case "page":
		return ctx.Page, true
	case "action":
		return ctx.Action, true
	case "backend":
		return ctx.Backend, true
	case "backend_source":
		return ctx.Provenance, true
	case "code":
		if ctx.Code == "" {
			return "-", true
		}
		return ctx.Code, true
	case "not_modified":
		return strconv.FormatBool(ctx.NotModified), true
	case "status":
		return strconv.Itoa(ctx.Status), true
	case "body_bytes_sent":
		return strconv.FormatInt(ctx.BodyBytesSent, 10), true
	case "response_time":
		return fmt.Sprintf("%.3f", ctx.ResponseTime.Seconds()*1000), true
	case "time_iso8601":
		return time.Now().Format(time.RFC3339), true
	case "time_local":
		return time.Now().Format("02/Jan/2006:15:04:05 -0700"), true
	}

	r := ctx.Request
	if r == nil {
		return "", false
	}
	switch name {
	case "request_method":
		return r.Method, true
	case "request_uri":
		return r.RequestURI, true
	case "request_path":
		return r.URL.Path, true
	case "query_string":
		return r.URL.RawQuery, true
	case "remote_addr":
		return ExtractClientIP(r), true
	case "host":
		return r.Host, true
	}
	return "", false
}

func getDynamic(prefix, suffix string, ctx *Context) (string, bool) {
	if ctx.Request == nil {
		return "", false
	}
	switch prefix {
	case "http":
		return ctx.Request.Header.Get(NormalizeHeaderName(suffix)), true
	case "arg":
		return ctx.Request.URL.Query().Get(suffix), true
	}
	return "", false
}

// AllVariables lists the built-in variable names.
func AllVariables() []string {
	return []string{
		"request_id", "request_method", "request_uri", "request_path",
		"query_string", "remote_addr", "host",
		"http_<name>", "arg_<name>",
		"environment", "brand", "kind", "page", "action",
		"backend", "backend_source", "code", "not_modified",
		"status", "body_bytes_sent", "response_time",
		"time_iso8601", "time_local",
	}
}
