package proto

import (
	"errors"
	"strings"
)

// SaveCardAmount is the nominal authorization used to validate and tokenize a
// card without charging it.
const SaveCardAmount = "0.05"

var ErrDeviceNameRequired = errors.New("device name is required")

// Card holds card-not-present fields for keyed transactions.
type Card struct {
	AccountNumber string
	BillingName   string
	ExpDate       string
	CVV           string
	Street        string
	Zip           string
}

type TransactionOption func(*TransactionData)

func WithUniqueTransRef(ref string) TransactionOption {
	return func(d *TransactionData) { d.UniqueTransRef = ref }
}

func WithCashier(cashier string) TransactionOption {
	return func(d *TransactionData) { d.Cashier = cashier }
}

func WithTransactionRef(ref string) TransactionOption {
	return func(d *TransactionData) { d.TransactionRef = ref }
}

func WithCard(card Card) TransactionOption {
	return func(d *TransactionData) {
		d.AccountNumber = card.AccountNumber
		d.BillingName = card.BillingName
		d.ExpDate = card.ExpDate
		d.CVV = card.CVV
		d.Street = card.Street
		d.Zip = card.Zip
	}
}

func transaction(testMode bool, txType TransactionType, deviceName string, base TransactionData, opts []TransactionOption) (Command, error) {
	if strings.TrimSpace(deviceName) == "" {
		return Command{}, ErrDeviceNameRequired
	}
	data := base
	for _, opt := range opts {
		opt(&data)
	}
	data.TransactionType = txType
	data.DeviceName = deviceName
	return Command{Action: ActionTransaction, TestMode: testMode, Data: &data}, nil
}

func CreditSale(testMode bool, deviceName, amount string, opts ...TransactionOption) (Command, error) {
	return transaction(testMode, CreditSaleType, deviceName, TransactionData{Amount: amount}, opts)
}

func CreditReturn(testMode bool, deviceName, amount string, opts ...TransactionOption) (Command, error) {
	return transaction(testMode, CreditReturnType, deviceName, TransactionData{Amount: amount}, opts)
}

func CreditAuth(testMode bool, deviceName, amount string, opts ...TransactionOption) (Command, error) {
	return transaction(testMode, CreditAuthType, deviceName, TransactionData{Amount: amount}, opts)
}

// CreditForce posts a sale previously approved by voice authorization.
func CreditForce(testMode bool, deviceName, amount, voiceAuthCode string, opts ...TransactionOption) (Command, error) {
	return transaction(testMode, CreditForceType, deviceName, TransactionData{Amount: amount, VoiceAuthCode: voiceAuthCode}, opts)
}

func CreditAddTip(testMode bool, deviceName, amount, uniqueTransRef string, opts ...TransactionOption) (Command, error) {
	return transaction(testMode, CreditAddTipType, deviceName, TransactionData{Amount: amount, UniqueTransRef: uniqueTransRef}, opts)
}

// SaveCreditCard tokenizes a card with a SaveCardAmount authorization.
func SaveCreditCard(testMode bool, deviceName string, opts ...TransactionOption) (Command, error) {
	cmd, err := transaction(testMode, CreditSaveCardType, deviceName, TransactionData{}, opts)
	if err != nil {
		return Command{}, err
	}
	cmd.Data.Amount = SaveCardAmount
	return cmd, nil
}

func DebitSale(testMode bool, deviceName, amount string, opts ...TransactionOption) (Command, error) {
	return transaction(testMode, DebitSaleType, deviceName, TransactionData{Amount: amount}, opts)
}

func Void(testMode bool, deviceName, uniqueTransRef string, opts ...TransactionOption) (Command, error) {
	return transaction(testMode, VoidType, deviceName, TransactionData{UniqueTransRef: uniqueTransRef}, opts)
}

func RequestSignature(testMode bool, deviceName string, opts ...TransactionOption) (Command, error) {
	return transaction(testMode, RequestSignatureType, deviceName, TransactionData{}, opts)
}

func DisplayText(testMode bool, deviceName, text string, opts ...TransactionOption) (Command, error) {
	return transaction(testMode, DisplayTextType, deviceName, TransactionData{DisplayText: text}, opts)
}

// Echo probes the channel through the controller. Echo carries no test mode.
func Echo(message string) Command {
	return Command{Action: ActionEcho, Message: message}
}

func Ping(testMode bool, deviceName string) (Command, error) {
	if strings.TrimSpace(deviceName) == "" {
		return Command{}, ErrDeviceNameRequired
	}
	return Command{Action: ActionPing, TestMode: testMode, Data: &TransactionData{DeviceName: deviceName}}, nil
}

func Cancel(testMode bool, deviceName string) (Command, error) {
	if strings.TrimSpace(deviceName) == "" {
		return Command{}, ErrDeviceNameRequired
	}
	return Command{Action: ActionCancel, TestMode: testMode, Data: &TransactionData{DeviceName: deviceName}}, nil
}

func AnswerYes() Command {
	return Command{Action: ActionAnswer, Success: true}
}

func AnswerNo() Command {
	return Command{Action: ActionAnswer, Success: false}
}
