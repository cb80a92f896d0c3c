package tools

import "github.com/cloudwego/eino/schema"

// Builtin returns the descriptors advertised to the model by default.
func Builtin() []*schema.ToolInfo {
	return []*schema.ToolInfo{
		{
			Name: "http_request",
			Desc: "Send an HTTP request and return the response body",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"url":    {Type: schema.String, Desc: "Target URL", Required: true},
				"method": {Type: schema.String, Desc: "HTTP method", Enum: []string{"GET", "POST", "PUT", "DELETE"}},
				"body":   {Type: schema.String, Desc: "Request body"},
			}),
		},
		{
			Name: "file_read",
			Desc: "Read a text file",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"path":     {Type: schema.String, Desc: "File path", Required: true},
				"encoding": {Type: schema.String, Desc: "Text encoding"},
			}),
		},
		{
			Name: "code_analyze",
			Desc: "Analyze source code and report issues",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"code":     {Type: schema.String, Desc: "Source code", Required: true},
				"language": {Type: schema.String, Desc: "Programming language"},
			}),
		},
		{
			Name: "system_info",
			Desc: "Report host system information",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"detail": {Type: schema.Boolean, Desc: "Include detailed fields"},
			}),
		},
	}
}

// NewBuiltinRegistry returns a registry preloaded with Builtin, optionally
// restricted to the given names.
func NewBuiltinRegistry(only ...string) *Registry {
	allowed := make(map[string]bool, len(only))
	for _, name := range only {
		allowed[name] = true
	}

	r := NewRegistry()
	for _, info := range Builtin() {
		if len(allowed) > 0 && !allowed[info.Name] {
			continue
		}
		_ = r.Register(info)
	}
	return r
}
