// Package mcp exposes the task stack as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/onejob/onejob/internal/controlplane"
	"github.com/onejob/onejob/internal/models"
	"github.com/onejob/onejob/internal/ranking"
)

// NewServer creates a new MCP server over the control plane service.
func NewServer(svc *controlplane.Service, version string) *server.MCPServer {
	s := server.NewMCPServer("onejob", version)

	// Tasks
	s.AddTool(mcp.NewTool("create_task",
		mcp.WithDescription("Create a task. New tasks go to the top of the active stack."),
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
		mcp.WithString("description", mcp.Description("Task description")),
	), createTaskHandler(svc))

	s.AddTool(mcp.NewTool("list_active",
		mcp.WithDescription("List active tasks in rank order. Rank 1 is the current task."),
	), listActiveHandler(svc))

	s.AddTool(mcp.NewTool("list_done",
		mcp.WithDescription("List completed tasks, most recent first."),
	), listDoneHandler(svc))

	s.AddTool(mcp.NewTool("get_task",
		mcp.WithDescription("Get a single task with its substacks."),
		mcp.WithString("id", mcp.Description("Task ID"), mcp.Required()),
	), getTaskHandler(svc))

	s.AddTool(mcp.NewTool("complete_task",
		mcp.WithDescription("Mark an active task done and close the gap in the ranking."),
		mcp.WithString("id", mcp.Description("Task ID"), mcp.Required()),
	), transitionHandler(svc.CompleteTask))

	s.AddTool(mcp.NewTool("defer_task",
		mcp.WithDescription("Move an active task to the bottom of the stack."),
		mcp.WithString("id", mcp.Description("Task ID"), mcp.Required()),
	), transitionHandler(svc.DeferTask))

	s.AddTool(mcp.NewTool("reactivate_task",
		mcp.WithDescription("Put a done task back at the top of the stack."),
		mcp.WithString("id", mcp.Description("Task ID"), mcp.Required()),
	), transitionHandler(svc.ReactivateTask))

	// Substacks
	s.AddTool(mcp.NewTool("create_substack",
		mcp.WithDescription("Attach a named substack to a task."),
		mcp.WithString("task_id", mcp.Description("Task ID"), mcp.Required()),
		mcp.WithString("name", mcp.Description("Substack name"), mcp.Required()),
	), createSubStackHandler(svc))

	s.AddTool(mcp.NewTool("create_substack_item",
		mcp.WithDescription("Append an item to a substack. Items keep their rank for life."),
		mcp.WithString("substack_id", mcp.Description("Substack ID"), mcp.Required()),
		mcp.WithString("title", mcp.Description("Item title"), mcp.Required()),
		mcp.WithString("description", mcp.Description("Item description")),
	), addItemHandler(svc))

	s.AddTool(mcp.NewTool("toggle_substack_item",
		mcp.WithDescription("Flip an item's completed flag. Its rank does not change."),
		mcp.WithString("item_id", mcp.Description("Item ID"), mcp.Required()),
	), toggleItemHandler(svc))

	// Integrity
	s.AddTool(mcp.NewTool("check_ranks",
		mcp.WithDescription("Check that active ranks are exactly 1..N. Read-only."),
	), checkRanksHandler(svc))

	return s
}

// Serve starts the MCP server on stdio.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// errorResult reports domain failures to the model as tool errors.
func errorResult(err error) *mcp.CallToolResult {
	if kind := ranking.Kind(err); kind != "" {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", kind, err))
	}
	return mcp.NewToolResultError(err.Error())
}

func createTaskHandler(svc *controlplane.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		task, err := svc.CreateTask(ctx, controlplane.CreateTaskInput{
			Title:       mcp.ParseString(request, "title", ""),
			Description: mcp.ParseString(request, "description", ""),
			Source:      "mcp",
		})
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(task)
	}
}

func listActiveHandler(svc *controlplane.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tasks, err := svc.ListActive(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(map[string]any{"tasks": tasks})
	}
}

func listDoneHandler(svc *controlplane.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tasks, err := svc.ListDone(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(map[string]any{"tasks": tasks})
	}
}

func getTaskHandler(svc *controlplane.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "id", "")
		task, err := svc.GetTask(ctx, id)
		if err != nil {
			return errorResult(err), nil
		}
		stacks, err := svc.ListSubStacks(ctx, id)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(map[string]any{"task": task, "substacks": stacks})
	}
}

func transitionHandler(op func(ctx context.Context, id string) (*models.Task, error)) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		task, err := op(ctx, mcp.ParseString(request, "id", ""))
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(task)
	}
}

func createSubStackHandler(svc *controlplane.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ss, err := svc.CreateSubStack(ctx,
			mcp.ParseString(request, "task_id", ""),
			mcp.ParseString(request, "name", ""))
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(ss)
	}
}

func addItemHandler(svc *controlplane.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		item, err := svc.AddItem(ctx, mcp.ParseString(request, "substack_id", ""), controlplane.AddItemInput{
			Title:       mcp.ParseString(request, "title", ""),
			Description: mcp.ParseString(request, "description", ""),
		})
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(item)
	}
}

func toggleItemHandler(svc *controlplane.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		item, err := svc.ToggleItem(ctx, mcp.ParseString(request, "item_id", ""))
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(item)
	}
}

func checkRanksHandler(svc *controlplane.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		report, err := svc.CheckRanks(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(report)
	}
}
