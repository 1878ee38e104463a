package mcp

import (
	"context"
	"encoding/json"

	"github.com/pario-ai/shopkeep/pkg/deliverylog"
	"github.com/pario-ai/shopkeep/pkg/models"
)

// Tool argument structs.

type storeArgs struct {
	Store string `json:"store"`
}

type deliveriesArgs struct {
	ChatID string `json:"chat_id"`
	Status string `json:"status"`
	Limit  int    `json:"limit"`
}

type chatArgs struct {
	ChatID string `json:"chat_id"`
}

type sendArgs struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// toolHandler is a function that handles a tool call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

// toolHandlers maps tool names to their handlers.
var toolHandlers = map[string]toolHandler{
	"shopkeep_cache_stats":    handleCacheStats,
	"shopkeep_cache_read":     handleCacheRead,
	"shopkeep_deliveries":     handleDeliveries,
	"shopkeep_delivery_stats": handleDeliveryStats,
	"shopkeep_quota":          handleQuota,
	"shopkeep_send":           handleSend,
}

func stringProp(desc string) Property {
	return Property{Type: "string", Description: desc}
}

func objectSchema(required []string, props map[string]Property) Schema {
	if props == nil {
		props = map[string]Property{}
	}
	return Schema{Type: "object", Properties: props, Required: required}
}

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name:        "shopkeep_cache_stats",
		Description: "Show cached stores with item counts, last update and freshness, plus hit and miss counters.",
		InputSchema: objectSchema(nil, nil),
	},
	{
		Name:        "shopkeep_cache_read",
		Description: "Return the fresh records of one cached store as JSON.",
		InputSchema: objectSchema([]string{"store"}, map[string]Property{
			"store": stringProp("Store name, e.g. clients"),
		}),
	},
	{
		Name:        "shopkeep_deliveries",
		Description: "List recent notification deliveries, newest first.",
		InputSchema: objectSchema(nil, map[string]Property{
			"chat_id": stringProp("Filter by chat ID (optional)"),
			"status":  stringProp("Filter by status: sent, failed or rejected (optional)"),
			"limit":   {Type: "integer", Description: "Maximum rows (default 20)"},
		}),
	},
	{
		Name:        "shopkeep_delivery_stats",
		Description: "Show per-day delivery counts by status.",
		InputSchema: objectSchema(nil, nil),
	},
	{
		Name:        "shopkeep_quota",
		Description: "Show message quota usage vs limits for a chat, or for all chats.",
		InputSchema: objectSchema(nil, map[string]Property{
			"chat_id": stringProp("Chat ID (optional, omit for all chats)"),
		}),
	},
	{
		Name:        "shopkeep_send",
		Description: "Send a notification to a customer chat or phone number.",
		InputSchema: objectSchema([]string{"chat_id", "text"}, map[string]Property{
			"chat_id": stringProp("Chat ID or phone number"),
			"text":    stringProp("Message text"),
		}),
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{Content: []Content{TextContent(text)}}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{Content: []Content{TextContent(text)}, IsError: true}
}

func handleCacheStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.cache == nil {
		return textResult("Cache is not configured.")
	}
	return textResult(formatCacheStats(s.cache.Stats(ctx)))
}

func handleCacheRead(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.cache == nil {
		return textResult("Cache is not configured.")
	}
	var args storeArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.Store == "" {
		return errorResult("store is required")
	}

	res := s.cache.Lookup(ctx, args.Store)
	if res.Err != nil {
		return errorResult("Error reading cache: " + res.Err.Error())
	}
	if !res.Hit {
		return textResult("Store " + args.Store + " is not cached or has expired.")
	}
	data, err := json.MarshalIndent(res.Records, "", "  ")
	if err != nil {
		return errorResult("Error encoding records: " + err.Error())
	}
	return textResult(string(data))
}

func handleDeliveries(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.deliveries == nil {
		return textResult("Delivery log is not configured.")
	}
	var args deliveriesArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.Limit <= 0 {
		args.Limit = 20
	}
	records, err := s.deliveries.Query(ctx, models.DeliveryQuery{
		ChatID: args.ChatID,
		Status: models.DeliveryStatus(args.Status),
		Limit:  args.Limit,
	})
	if err != nil {
		return errorResult("Error fetching deliveries: " + err.Error())
	}
	return textResult(formatDeliveries(records))
}

func handleDeliveryStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.deliveries == nil {
		return textResult("Delivery log is not configured.")
	}
	stats, err := s.deliveries.Stats(ctx)
	if err != nil {
		return errorResult("Error fetching delivery stats: " + err.Error())
	}
	return textResult(formatDeliveryStats(stats))
}

func handleQuota(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.quota == nil {
		return textResult("Quota enforcement is not configured.")
	}
	var args chatArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.ChatID == "" {
		args.ChatID = deliverylog.AllChats
	}
	statuses, err := s.quota.Status(ctx, args.ChatID)
	if err != nil {
		return errorResult("Error fetching quota status: " + err.Error())
	}
	return textResult(formatQuotaStatus(statuses))
}

func handleSend(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.sender == nil {
		return textResult("Messaging is not configured.")
	}
	var args sendArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.ChatID == "" || args.Text == "" {
		return errorResult("chat_id and text are required")
	}
	res := s.sender.Send(ctx, args.ChatID, args.Text)
	if !res.Success {
		msg := "Message not delivered"
		if res.Err != nil {
			msg += ": " + res.Err.Error()
		}
		return errorResult(msg)
	}
	return textResult(formatSendResult(res))
}
