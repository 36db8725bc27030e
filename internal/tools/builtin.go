package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/boxbot-dev/boxbot/internal/inventory"
	"github.com/boxbot-dev/boxbot/pkg/models"
)

// RegisterBuiltins installs the standard inventory tool set.
func RegisterBuiltins(c *Catalog) {
	for _, desc := range builtinDescriptors() {
		c.MustRegister(desc)
	}
}

func builtinDescriptors() []*Descriptor {
	return []*Descriptor{
		{
			Name:        "get_item",
			Description: "Fetch one inventory item by its ID, including its location, labels, and fields.",
			Permission:  PermissionRead,
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"id": {"type": "string", "description": "Item ID."}
				},
				"required": ["id"]
			}`),
			Handler: func(ctx context.Context, inv *inventory.Client, token string, params map[string]any) (*models.ToolResult, error) {
				id, err := stringParam(params, "id")
				if err != nil {
					return nil, err
				}
				item, err := inv.GetItem(ctx, token, id)
				if err != nil {
					return failure(err), nil
				}
				return success(item), nil
			},
		},
		{
			Name:        "list_items",
			Description: "List inventory items with pagination.",
			Permission:  PermissionRead,
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"page": {"type": "integer", "minimum": 1, "description": "Page number, starting at 1."},
					"page_size": {"type": "integer", "minimum": 1, "maximum": 100, "description": "Items per page."}
				}
			}`),
			Handler: func(ctx context.Context, inv *inventory.Client, token string, params map[string]any) (*models.ToolResult, error) {
				page := optionalIntParam(params, "page", 1)
				pageSize := optionalIntParam(params, "page_size", 20)
				items, err := inv.ListItems(ctx, token, page, pageSize)
				if err != nil {
					return failure(err), nil
				}
				return success(items), nil
			},
		},
		{
			Name:        "search_items",
			Description: "Search inventory items by free-text query over names, descriptions, and serial numbers.",
			Permission:  PermissionRead,
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "description": "Search text."},
					"limit": {"type": "integer", "minimum": 1, "maximum": 100, "description": "Maximum results."}
				},
				"required": ["query"]
			}`),
			Handler: func(ctx context.Context, inv *inventory.Client, token string, params map[string]any) (*models.ToolResult, error) {
				query, err := stringParam(params, "query")
				if err != nil {
					return nil, err
				}
				limit := optionalIntParam(params, "limit", 20)
				items, err := inv.SearchItems(ctx, token, query, limit)
				if err != nil {
					return failure(err), nil
				}
				return success(items), nil
			},
		},
		{
			Name:        "list_locations",
			Description: "List all storage locations.",
			Permission:  PermissionRead,
			Schema:      json.RawMessage(`{"type": "object", "properties": {}}`),
			Handler: func(ctx context.Context, inv *inventory.Client, token string, params map[string]any) (*models.ToolResult, error) {
				locations, err := inv.ListLocations(ctx, token)
				if err != nil {
					return failure(err), nil
				}
				return success(locations), nil
			},
		},
		{
			Name:        "get_location",
			Description: "Fetch one storage location by its ID, including contained items.",
			Permission:  PermissionRead,
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"id": {"type": "string", "description": "Location ID."}
				},
				"required": ["id"]
			}`),
			Handler: func(ctx context.Context, inv *inventory.Client, token string, params map[string]any) (*models.ToolResult, error) {
				id, err := stringParam(params, "id")
				if err != nil {
					return nil, err
				}
				location, err := inv.GetLocation(ctx, token, id)
				if err != nil {
					return failure(err), nil
				}
				return success(location), nil
			},
		},
		{
			Name:        "list_labels",
			Description: "List all labels used to tag inventory items.",
			Permission:  PermissionRead,
			Schema:      json.RawMessage(`{"type": "object", "properties": {}}`),
			Handler: func(ctx context.Context, inv *inventory.Client, token string, params map[string]any) (*models.ToolResult, error) {
				labels, err := inv.ListLabels(ctx, token)
				if err != nil {
					return failure(err), nil
				}
				return success(labels), nil
			},
		},
		{
			Name:        "get_label",
			Description: "Fetch one label by its ID, including tagged items.",
			Permission:  PermissionRead,
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"id": {"type": "string", "description": "Label ID."}
				},
				"required": ["id"]
			}`),
			Handler: func(ctx context.Context, inv *inventory.Client, token string, params map[string]any) (*models.ToolResult, error) {
				id, err := stringParam(params, "id")
				if err != nil {
					return nil, err
				}
				label, err := inv.GetLabel(ctx, token, id)
				if err != nil {
					return failure(err), nil
				}
				return success(label), nil
			},
		},
		{
			Name:        "group_statistics",
			Description: "Get overall inventory statistics: total items, total value, location and label counts.",
			Permission:  PermissionRead,
			Schema:      json.RawMessage(`{"type": "object", "properties": {}}`),
			Handler: func(ctx context.Context, inv *inventory.Client, token string, params map[string]any) (*models.ToolResult, error) {
				stats, err := inv.GroupStatistics(ctx, token)
				if err != nil {
					return failure(err), nil
				}
				return success(stats), nil
			},
		},
		{
			Name:        "location_statistics",
			Description: "Get item counts and total value broken down by storage location.",
			Permission:  PermissionRead,
			Schema:      json.RawMessage(`{"type": "object", "properties": {}}`),
			Handler: func(ctx context.Context, inv *inventory.Client, token string, params map[string]any) (*models.ToolResult, error) {
				stats, err := inv.LocationStatistics(ctx, token)
				if err != nil {
					return failure(err), nil
				}
				return success(stats), nil
			},
		},
		{
			Name:        "label_statistics",
			Description: "Get item counts and total value broken down by label.",
			Permission:  PermissionRead,
			Schema:      json.RawMessage(`{"type": "object", "properties": {}}`),
			Handler: func(ctx context.Context, inv *inventory.Client, token string, params map[string]any) (*models.ToolResult, error) {
				stats, err := inv.LabelStatistics(ctx, token)
				if err != nil {
					return failure(err), nil
				}
				return success(stats), nil
			},
		},
		{
			Name:        "create_item",
			Description: "Create a new inventory item. Requires user approval before running.",
			Permission:  PermissionWrite,
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"name": {"type": "string", "description": "Item name."},
					"description": {"type": "string", "description": "Item description."},
					"location_id": {"type": "string", "description": "ID of the location to store the item in."},
					"label_ids": {"type": "array", "items": {"type": "string"}, "description": "Label IDs to tag the item with."},
					"quantity": {"type": "integer", "minimum": 1, "description": "Quantity on hand."}
				},
				"required": ["name"]
			}`),
			Handler: func(ctx context.Context, inv *inventory.Client, token string, params map[string]any) (*models.ToolResult, error) {
				item, err := inv.CreateItem(ctx, token, inventory.Record(params))
				if err != nil {
					return failure(err), nil
				}
				return success(item), nil
			},
		},
		{
			Name:        "update_item",
			Description: "Update fields of an existing inventory item. Requires user approval before running.",
			Permission:  PermissionWrite,
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"id": {"type": "string", "description": "Item ID."},
					"name": {"type": "string"},
					"description": {"type": "string"},
					"location_id": {"type": "string"},
					"label_ids": {"type": "array", "items": {"type": "string"}},
					"quantity": {"type": "integer", "minimum": 0}
				},
				"required": ["id"]
			}`),
			Handler: func(ctx context.Context, inv *inventory.Client, token string, params map[string]any) (*models.ToolResult, error) {
				id, err := stringParam(params, "id")
				if err != nil {
					return nil, err
				}
				fields := make(inventory.Record, len(params))
				for k, v := range params {
					if k != "id" {
						fields[k] = v
					}
				}
				item, err := inv.UpdateItem(ctx, token, id, fields)
				if err != nil {
					return failure(err), nil
				}
				return success(item), nil
			},
		},
		{
			Name:        "delete_item",
			Description: "Permanently delete an inventory item. Requires user approval before running.",
			Permission:  PermissionDestructive,
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"id": {"type": "string", "description": "Item ID."}
				},
				"required": ["id"]
			}`),
			Handler: func(ctx context.Context, inv *inventory.Client, token string, params map[string]any) (*models.ToolResult, error) {
				id, err := stringParam(params, "id")
				if err != nil {
					return nil, err
				}
				if err := inv.DeleteItem(ctx, token, id); err != nil {
					return failure(err), nil
				}
				return success(map[string]any{"deleted": true, "id": id}), nil
			},
		},
	}
}

func success(data any) *models.ToolResult {
	return &models.ToolResult{Success: true, Data: data}
}

func failure(err error) *models.ToolResult {
	return &models.ToolResult{Success: false, Error: err.Error()}
}

func stringParam(params map[string]any, key string) (string, error) {
	value, ok := params[key]
	if !ok {
		return "", fmt.Errorf("tools: missing required parameter %q", key)
	}
	s, ok := value.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("tools: parameter %q must be a non-empty string", key)
	}
	return s, nil
}

// optionalIntParam reads an integer parameter, accepting the float64
// values JSON decoding produces.
func optionalIntParam(params map[string]any, key string, fallback int) int {
	value, ok := params[key]
	if !ok {
		return fallback
	}
	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}
