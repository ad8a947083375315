package mcp

import (
	goMCP "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/melkeydev/dbplus/access"
	"github.com/melkeydev/dbplus/handlers"
	"github.com/melkeydev/dbplus/permissions"
)

func RegisterTools(s *server.MCPServer, a *access.Access, policy permissions.Policy) {
	// Write tool
	writeTool := goMCP.NewTool("write_record",
		goMCP.WithDescription("Insert a record, or update it when its id already exists. The table is created or widened to fit the record"),
		goMCP.WithString("table",
			goMCP.Required(),
			goMCP.Description("Name of the table to write to"),
		),
		goMCP.WithObject("record",
			goMCP.Required(),
			goMCP.Description("Field names and values of the record"),
		),
	)

	// Read tool
	readTool := goMCP.NewTool("read_records",
		goMCP.WithDescription("Read records from a table"),
		goMCP.WithString("table",
			goMCP.Required(),
			goMCP.Description("Name of the table to read"),
		),
		goMCP.WithArray("select",
			goMCP.Description("Optional list of fields to return. If empty, returns every field"),
		),
		goMCP.WithObject("where",
			goMCP.Description("Optional field filters. An array value matches any of its items"),
		),
		goMCP.WithString("id",
			goMCP.Description("Optional id of a single record"),
		),
		goMCP.WithBoolean("first_only",
			goMCP.Description("Return at most one record"),
		),
	)

	// Delete tool
	deleteTool := goMCP.NewTool("delete_records",
		goMCP.WithDescription("Delete records by id or by field filters"),
		goMCP.WithString("table",
			goMCP.Required(),
			goMCP.Description("Name of the table to delete from"),
		),
		goMCP.WithArray("ids",
			goMCP.Description("Ids of the records to delete"),
		),
		goMCP.WithObject("where",
			goMCP.Description("Field filters selecting the records to delete"),
		),
	)

	// Describe tool
	describeTool := goMCP.NewTool("describe_table",
		goMCP.WithDescription("Show the columns of a table"),
		goMCP.WithString("table",
			goMCP.Required(),
			goMCP.Description("Name of the table to describe"),
		),
	)

	// Query tool
	queryTool := goMCP.NewTool("query_database",
		goMCP.WithDescription("Execute a raw SQL query on the database. Permissions are not checked"),
		goMCP.WithString("query",
			goMCP.Required(),
			goMCP.Description("SQL query to execute"),
		),
	)

	s.AddTool(writeTool, server.ToolHandlerFunc(handlers.WriteHandler(a, policy)))
	s.AddTool(readTool, server.ToolHandlerFunc(handlers.ReadHandler(a, policy)))
	s.AddTool(deleteTool, server.ToolHandlerFunc(handlers.DeleteHandler(a, policy)))
	s.AddTool(describeTool, server.ToolHandlerFunc(handlers.DescribeHandler(a)))
	s.AddTool(queryTool, server.ToolHandlerFunc(handlers.QueryHandler(a)))
}
