package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/melkeydev/dbplus/access"
	"github.com/melkeydev/dbplus/permissions"
	"github.com/melkeydev/dbplus/types"
	"github.com/melkeydev/dbplus/value"
)

type ToolHandler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

// WriteHandler creates a handler for the write_record tool
func WriteHandler(a *access.Access, policy permissions.Policy) ToolHandler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := request.RequireString("table")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Missing table parameter: %v", err)), nil
		}

		fields, ok := arguments(request)["record"].(map[string]any)
		if !ok || len(fields) == 0 {
			return mcp.NewToolResultError("Missing record parameter"), nil
		}

		rec, outcome := a.TryWrite(ctx, policy, table, recordFrom(fields))
		if outcome.Status == access.StatusDenied || outcome.Status == access.StatusStoreError {
			return mcp.NewToolResultError(fmt.Sprintf("Write failed: %v", outcome.Err)), nil
		}

		return jsonResult(map[string]any{
			"status": outcome.Status.String(),
			"record": rec,
		})
	}
}

// ReadHandler creates a handler for the read_records tool
func ReadHandler(a *access.Access, policy permissions.Policy) ToolHandler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := request.RequireString("table")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Missing table parameter: %v", err)), nil
		}

		args := arguments(request)
		opts := access.ReadOptions{
			Select: stringList(args["select"]),
		}
		if where, ok := args["where"].(map[string]any); ok {
			opts.Where = recordFrom(where).Map()
		}
		if id, ok := args["id"].(string); ok {
			opts.ID = id
		}
		if first, ok := args["first_only"].(bool); ok {
			opts.FirstOnly = first
		}

		recs, outcome := a.TryRead(ctx, policy, table, opts)
		if !outcome.OK() {
			return mcp.NewToolResultError(fmt.Sprintf("Read failed: %v", outcome.Err)), nil
		}
		if recs == nil {
			recs = []types.Record{}
		}

		return jsonResult(recs)
	}
}

// DeleteHandler creates a handler for the delete_records tool
func DeleteHandler(a *access.Access, policy permissions.Policy) ToolHandler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := request.RequireString("table")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Missing table parameter: %v", err)), nil
		}

		args := arguments(request)
		var (
			ids     []string
			outcome access.Outcome
		)
		if list := stringList(args["ids"]); len(list) > 0 {
			ids, outcome = a.TryDelete(ctx, policy, table, list...)
		} else if where, ok := args["where"].(map[string]any); ok && len(where) > 0 {
			ids, outcome = a.TryDeleteWhere(ctx, policy, table, recordFrom(where).Map())
		} else {
			return mcp.NewToolResultError("Either ids or where is required"), nil
		}
		if !outcome.OK() {
			return mcp.NewToolResultError(fmt.Sprintf("Delete failed: %v", outcome.Err)), nil
		}
		if ids == nil {
			ids = []string{}
		}

		return jsonResult(map[string]any{"deleted": ids})
	}
}

// DescribeHandler creates a handler for the describe_table tool
func DescribeHandler(a *access.Access) ToolHandler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := request.RequireString("table")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Missing table parameter: %v", err)), nil
		}

		def, err := a.Definition(ctx, table)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Describe failed: %v", err)), nil
		}
		if def == nil {
			return mcp.NewToolResultError(fmt.Sprintf("Table %s does not exist", table)), nil
		}

		return jsonResult(def)
	}
}

// QueryHandler creates a handler for the query_database tool
func QueryHandler(a *access.Access) ToolHandler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Missing query parameter: %v", err)), nil
		}

		results, err := a.Query(ctx, query)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Query failed: %v", err)), nil
		}
		for _, row := range results {
			for k, v := range row {
				if b, ok := v.([]byte); ok {
					row[k] = string(b)
				}
			}
		}

		return jsonResult(results)
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal results: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonData)), nil
}

func arguments(request mcp.CallToolRequest) map[string]any {
	if args, ok := request.Params.Arguments.(map[string]any); ok {
		return args
	}
	return nil
}

func stringList(v any) []string {
	var out []string
	switch list := v.(type) {
	case string:
		out = append(out, list)
	case []string:
		out = append(out, list...)
	case []any:
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// recordFrom turns decoded JSON arguments into a record. JSON numbers arrive
// as float64; integral ones become integers.
func recordFrom(m map[string]any) types.Record {
	rec := types.FromMap(m)
	for i, f := range rec {
		if x, ok := f.Value.(value.Float); ok && x == value.Float(math.Trunc(float64(x))) && math.Abs(float64(x)) < 1<<53 {
			rec[i].Value = value.Int(int64(x))
		}
	}
	return rec
}
