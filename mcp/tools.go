package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mbocsi/cloudhw/proto"
)

func (b *Bridge) RegisterTools() {
	b.registerDeviceTools()
	b.registerTransactionTools()
	b.registerSystemTools()
}

func (b *Bridge) registerDeviceTools() {
	echoTool := mcp.NewTool("echo",
		mcp.WithDescription("Send a message to the controller and wait for it to be echoed back"),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("Text to echo"),
		),
	)
	b.mcpServer.AddTool(echoTool, b.handleEcho)

	pingTool := mcp.NewTool("ping",
		mcp.WithDescription("Check that a payment device is reachable"),
		mcp.WithString("device", mcp.Required(), mcp.Description("Device name")),
	)
	b.mcpServer.AddTool(pingTool, b.handlePing)

	displayTool := mcp.NewTool("display_text",
		mcp.WithDescription("Show text on a payment device's screen"),
		mcp.WithString("device", mcp.Required(), mcp.Description("Device name")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text to display")),
	)
	b.mcpServer.AddTool(displayTool, b.handleDisplayText)

	cancelTool := mcp.NewTool("cancel",
		mcp.WithDescription("Cancel the transaction in progress on a device"),
		mcp.WithString("device", mcp.Required(), mcp.Description("Device name")),
	)
	b.mcpServer.AddTool(cancelTool, b.handleCancel)

	answerTool := mcp.NewTool("answer",
		mcp.WithDescription("Answer a question asked by the device"),
		mcp.WithBoolean("yes", mcp.Required(), mcp.Description("true to accept, false to decline")),
	)
	b.mcpServer.AddTool(answerTool, b.handleAnswer)
}

func (b *Bridge) registerTransactionTools() {
	for _, name := range []string{"credit_sale", "credit_return", "credit_auth"} {
		tool := mcp.NewTool(name,
			mcp.WithDescription(fmt.Sprintf("Run a %s on a payment device and wait for the result", name)),
			mcp.WithString("device", mcp.Required(), mcp.Description("Device name")),
			mcp.WithString("amount", mcp.Required(), mcp.Description("Amount as a decimal string, e.g. 12.50")),
			mcp.WithString("cashier", mcp.Description("Cashier recorded with the transaction")),
			mcp.WithString("reference", mcp.Description("Merchant transaction reference")),
		)
		b.mcpServer.AddTool(tool, b.handleAmountTransaction)
	}

	voidTool := mcp.NewTool("void",
		mcp.WithDescription("Void an earlier transaction"),
		mcp.WithString("device", mcp.Required(), mcp.Description("Device name")),
		mcp.WithString("unique_trans_ref", mcp.Required(), mcp.Description("UniqueTransRef of the transaction to void")),
	)
	b.mcpServer.AddTool(voidTool, b.handleVoid)
}

func (b *Bridge) registerSystemTools() {
	downloadTool := mcp.NewTool("download_configuration",
		mcp.WithDescription("Fetch the controller name and device list for the configured location"),
	)
	b.mcpServer.AddTool(downloadTool, b.handleDownloadConfiguration)

	listTool := mcp.NewTool("list_devices",
		mcp.WithDescription("List the payment devices from the last configuration download"),
	)
	b.mcpServer.AddTool(listTool, b.handleListDevices)

	lastTool := mcp.NewTool("last_result",
		mcp.WithDescription("Show the most recent transaction result"),
	)
	b.mcpServer.AddTool(lastTool, b.handleLastResult)
}

func (b *Bridge) respond(ctx context.Context, send func() error) (*mcp.CallToolResult, error) {
	o, err := b.exchange(ctx, send)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := describe(o)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (b *Bridge) handleEcho(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message, err := request.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError("message is required and must be a string"), nil
	}
	return b.respond(ctx, func() error {
		b.pos.Echo(message)
		return nil
	})
}

func (b *Bridge) handlePing(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	device, err := request.RequireString("device")
	if err != nil {
		return mcp.NewToolResultError("device is required and must be a string"), nil
	}
	return b.respond(ctx, func() error { return b.pos.Ping(device) })
}

func (b *Bridge) handleDisplayText(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	device, err := request.RequireString("device")
	if err != nil {
		return mcp.NewToolResultError("device is required and must be a string"), nil
	}
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError("text is required and must be a string"), nil
	}
	return b.respond(ctx, func() error { return b.pos.DisplayText(device, text) })
}

func (b *Bridge) handleCancel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	device, err := request.RequireString("device")
	if err != nil {
		return mcp.NewToolResultError("device is required and must be a string"), nil
	}
	return b.respond(ctx, func() error { return b.pos.Cancel(device) })
}

func (b *Bridge) handleAnswer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	yes, err := request.RequireBool("yes")
	if err != nil {
		return mcp.NewToolResultError("yes is required and must be a boolean"), nil
	}
	return b.respond(ctx, func() error {
		if yes {
			b.pos.AnswerYes()
		} else {
			b.pos.AnswerNo()
		}
		return nil
	})
}

func (b *Bridge) handleAmountTransaction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	device, err := request.RequireString("device")
	if err != nil {
		return mcp.NewToolResultError("device is required and must be a string"), nil
	}
	amount, err := request.RequireString("amount")
	if err != nil {
		return mcp.NewToolResultError("amount is required and must be a string"), nil
	}

	var opts []proto.TransactionOption
	if cashier := request.GetString("cashier", ""); cashier != "" {
		opts = append(opts, proto.WithCashier(cashier))
	}
	if ref := request.GetString("reference", ""); ref != "" {
		opts = append(opts, proto.WithTransactionRef(ref))
	}

	var send func() error
	switch request.Params.Name {
	case "credit_sale":
		send = func() error { return b.pos.CreditSale(device, amount, opts...) }
	case "credit_return":
		send = func() error { return b.pos.CreditReturn(device, amount, opts...) }
	case "credit_auth":
		send = func() error { return b.pos.CreditAuth(device, amount, opts...) }
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown transaction tool %q", request.Params.Name)), nil
	}
	return b.respond(ctx, send)
}

func (b *Bridge) handleVoid(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	device, err := request.RequireString("device")
	if err != nil {
		return mcp.NewToolResultError("device is required and must be a string"), nil
	}
	ref, err := request.RequireString("unique_trans_ref")
	if err != nil {
		return mcp.NewToolResultError("unique_trans_ref is required and must be a string"), nil
	}
	return b.respond(ctx, func() error { return b.pos.Void(device, ref) })
}

func (b *Bridge) handleDownloadConfiguration(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if b.pos == nil {
		return mcp.NewToolResultError(ErrNotAttached.Error()), nil
	}
	if err := b.pos.DownloadConfiguration(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error downloading configuration: %v", err)), nil
	}
	cfg := b.pos.Config()
	return mcp.NewToolResultText(fmt.Sprintf("Controller %s with %d devices", cfg.ControllerName, len(b.pos.Devices()))), nil
}

func (b *Bridge) handleListDevices(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if b.pos == nil {
		return mcp.NewToolResultError(ErrNotAttached.Error()), nil
	}
	cfg := b.pos.Config()
	result := map[string]interface{}{
		"controller": cfg.ControllerName,
		"location":   cfg.LocationID,
		"state":      b.pos.State().String(),
		"devices":    b.pos.Devices(),
	}

	resultBytes, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(resultBytes)), nil
}

func (b *Bridge) handleLastResult(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	frame, ok := b.lastResult()
	if !ok {
		return mcp.NewToolResultText("No results yet"), nil
	}
	text, err := describe(outcome{result: &frame})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}
