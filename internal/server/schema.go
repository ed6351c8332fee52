package server

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed chat_request.schema.json
var chatRequestSchemaJSON string

var (
	compileOnce sync.Once
	chatSchema  *jsonschema.Schema
	compileErr  error
)

func chatRequestSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("chat_request.schema.json", strings.NewReader(chatRequestSchemaJSON)); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		chatSchema, compileErr = compiler.Compile("chat_request.schema.json")
	})
	return chatSchema, compileErr
}

// decodeChatRequest validates body against the chat request schema and decodes it.
func decodeChatRequest(body []byte) (chatRequest, error) {
	var req chatRequest
	if len(strings.TrimSpace(string(body))) == 0 {
		return req, nil
	}
	schema, err := chatRequestSchema()
	if err != nil {
		return req, err
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return req, fmt.Errorf("not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return req, fmt.Errorf("does not match schema: %w", err)
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, err
	}
	return req, nil
}
