package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/mbocsi/cloudhw/client"
	"github.com/mbocsi/cloudhw/config"
	"github.com/mbocsi/cloudhw/proto"
	flag "github.com/spf13/pflag"
)

const usage = `Usage: posclient [flags] <operation>

Operations:
  config        download the location configuration and list devices
  echo          send --message to the controller
  ping          check --device
  sale          credit sale of --amount on --device
  return        credit return of --amount on --device
  auth          credit auth of --amount on --device
  force         credit force of --amount with --voice-auth on --device
  tip           add a tip of --amount to --ref on --device
  savecard      tokenize a card on --device without charging it
  debit         debit sale of --amount on --device
  void          void --ref on --device
  signature     request a signature on --device
  display       show --text on --device
  cancel        cancel the transaction on --device

Flags:
`

type options struct {
	device  string
	amount  string
	message string
	ref     string
	text    string
	cashier string
	answer  string
	voice   string
}

func main() {
	var opts options
	configPath := flag.StringP("config", "c", "cloudhw.yaml", "Path to the YAML config file")
	flag.StringVarP(&opts.device, "device", "d", "", "Device name")
	flag.StringVarP(&opts.amount, "amount", "a", "", "Amount, e.g. 12.50")
	flag.StringVarP(&opts.message, "message", "m", "", "Echo message")
	flag.StringVar(&opts.ref, "ref", "", "UniqueTransRef of an earlier transaction")
	flag.StringVar(&opts.text, "text", "", "Text to display")
	flag.StringVar(&opts.cashier, "cashier", "", "Cashier recorded with the transaction")
	flag.StringVar(&opts.answer, "answer", "", "Answer device questions automatically: yes or no")
	flag.StringVar(&opts.voice, "voice-auth", "", "Voice authorization code for force")
	testMode := flag.Bool("test-mode", false, "Use the staging hub")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *testMode {
		cfg.Client.TestMode = true
	}
	logger, closeLog, err := config.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closeLog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, flag.Arg(0), opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type reply struct {
	result   *proto.ResultFrame
	echo     json.RawMessage
	question json.RawMessage
	err      error
}

// deliver never blocks the client's read goroutine.
func deliver(replies chan<- reply, r reply) {
	select {
	case replies <- r:
	default:
		slog.Warn("Reply channel full, dropping device response")
	}
}

func run(ctx context.Context, cfg *config.Config, op string, opts options) error {
	replies := make(chan reply, 8)
	handlers := client.Handlers{
		OnResult:   func(f proto.ResultFrame) { deliver(replies, reply{result: &f}) },
		OnEcho:     func(m json.RawMessage) { deliver(replies, reply{echo: m}) },
		OnQuestion: func(m json.RawMessage) { deliver(replies, reply{question: m}) },
		OnError:    func(err error) { deliver(replies, reply{err: err}) },
	}

	c, err := client.NewClient(cfg.ClientConfig(), nil,
		client.WithHandlers(handlers),
		client.WithLogger(slog.Default()),
		client.WithBreaker(cfg.BreakerConfig()),
	)
	if err != nil {
		return err
	}
	defer c.Close()

	if op == "config" || c.Config().ControllerName == "" {
		if err := c.DownloadConfiguration(ctx); err != nil {
			return err
		}
		if op == "config" {
			return printJSON(map[string]any{
				"controller": c.Config().ControllerName,
				"devices":    c.Devices(),
			})
		}
	}

	if err := sendOperation(c, op, opts); err != nil {
		return err
	}

	timer := time.NewTimer(cfg.Client.ResultWait())
	defer timer.Stop()
	for {
		select {
		case r := <-replies:
			switch {
			case r.err != nil:
				return r.err
			case r.echo != nil:
				fmt.Printf("Echo: %s\n", r.echo)
				return nil
			case r.result != nil:
				fields, err := r.result.Fields()
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"from": r.result.From, "result": fields})
			case r.question != nil:
				fmt.Printf("Device asks: %s\n", r.question)
				switch strings.ToLower(opts.answer) {
				case "yes", "y":
					c.AnswerYes()
				case "no", "n":
					c.AnswerNo()
				default:
					return nil
				}
			}
		case <-timer.C:
			return errors.New("timed out waiting for the device")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// sendOperation issues the command for op. Replies arrive through the
// client's handlers.
func sendOperation(c *client.Client, op string, opts options) error {
	var txOpts []proto.TransactionOption
	if opts.cashier != "" {
		txOpts = append(txOpts, proto.WithCashier(opts.cashier))
	}

	var err error
	switch op {
	case "echo":
		c.Echo(opts.message)
	case "ping":
		err = c.Ping(opts.device)
	case "sale":
		err = c.CreditSale(opts.device, opts.amount, txOpts...)
	case "return":
		err = c.CreditReturn(opts.device, opts.amount, txOpts...)
	case "auth":
		err = c.CreditAuth(opts.device, opts.amount, txOpts...)
	case "force":
		err = c.CreditForce(opts.device, opts.amount, opts.voice, txOpts...)
	case "tip":
		err = c.CreditAddTip(opts.device, opts.amount, opts.ref, txOpts...)
	case "savecard":
		err = c.SaveCreditCard(opts.device, txOpts...)
	case "debit":
		err = c.DebitSale(opts.device, opts.amount, txOpts...)
	case "void":
		err = c.Void(opts.device, opts.ref, txOpts...)
	case "signature":
		err = c.RequestSignature(opts.device, txOpts...)
	case "display":
		err = c.DisplayText(opts.device, opts.text, txOpts...)
	case "cancel":
		err = c.Cancel(opts.device)
	default:
		return fmt.Errorf("unknown operation %q", op)
	}
	return err
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
