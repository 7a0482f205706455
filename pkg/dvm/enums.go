package dvm

import (
	"fmt"
	"strings"
)

// PaymentMethod is the top-level payment instrument family.
type PaymentMethod string

const (
	Card            PaymentMethod = "card"
	CardRedirect    PaymentMethod = "card_redirect"
	PayLater        PaymentMethod = "pay_later"
	Wallet          PaymentMethod = "wallet"
	BankRedirect    PaymentMethod = "bank_redirect"
	BankTransfer    PaymentMethod = "bank_transfer"
	BankDebit       PaymentMethod = "bank_debit"
	Crypto          PaymentMethod = "crypto"
	Reward          PaymentMethod = "reward"
	Upi             PaymentMethod = "upi"
	Voucher         PaymentMethod = "voucher"
	GiftCard        PaymentMethod = "gift_card"
	RealTimePayment PaymentMethod = "real_time_payment"
	OpenBanking     PaymentMethod = "open_banking"
	MobilePayment   PaymentMethod = "mobile_payment"
)

func (p PaymentMethod) Value() Value { return Value{Key: KeyPaymentMethod, Text: string(p)} }

// PaymentMethodType refines a PaymentMethod.
type PaymentMethodType string

const (
	Credit               PaymentMethodType = "credit"
	Debit                PaymentMethodType = "debit"
	Knet                 PaymentMethodType = "knet"
	ApplePay             PaymentMethodType = "apple_pay"
	GooglePay            PaymentMethodType = "google_pay"
	Paypal               PaymentMethodType = "paypal"
	SamsungPay           PaymentMethodType = "samsung_pay"
	WeChatPay            PaymentMethodType = "we_chat_pay"
	AliPay               PaymentMethodType = "ali_pay"
	Klarna               PaymentMethodType = "klarna"
	Affirm               PaymentMethodType = "affirm"
	AfterpayClearpay     PaymentMethodType = "afterpay_clearpay"
	Ideal                PaymentMethodType = "ideal"
	Sofort               PaymentMethodType = "sofort"
	Giropay              PaymentMethodType = "giropay"
	Eps                  PaymentMethodType = "eps"
	Przelewy24           PaymentMethodType = "przelewy24"
	Trustly              PaymentMethodType = "trustly"
	Ach                  PaymentMethodType = "ach"
	Sepa                 PaymentMethodType = "sepa"
	Bacs                 PaymentMethodType = "bacs"
	Becs                 PaymentMethodType = "becs"
	Pix                  PaymentMethodType = "pix"
	Boleto               PaymentMethodType = "boleto"
	Oxxo                 PaymentMethodType = "oxxo"
	UpiCollect           PaymentMethodType = "upi_collect"
	UpiIntent            PaymentMethodType = "upi_intent"
	CryptoCurrency       PaymentMethodType = "crypto_currency"
	ClassicReward        PaymentMethodType = "classic"
	Evoucher             PaymentMethodType = "evoucher"
	Givex                PaymentMethodType = "givex"
	PaySafeCard          PaymentMethodType = "pay_safe_card"
	DuitNow              PaymentMethodType = "duit_now"
	OpenBankingUK        PaymentMethodType = "open_banking_uk"
	DirectCarrierBilling PaymentMethodType = "direct_carrier_billing"
)

var methodTypeParents = map[PaymentMethodType]PaymentMethod{
	Credit: Card, Debit: Card,
	Knet:     CardRedirect,
	ApplePay: Wallet, GooglePay: Wallet, Paypal: Wallet, SamsungPay: Wallet, WeChatPay: Wallet, AliPay: Wallet,
	Klarna: PayLater, Affirm: PayLater, AfterpayClearpay: PayLater,
	Ideal: BankRedirect, Sofort: BankRedirect, Giropay: BankRedirect, Eps: BankRedirect, Przelewy24: BankRedirect, Trustly: BankRedirect,
	Ach: BankDebit, Sepa: BankDebit, Bacs: BankDebit, Becs: BankDebit,
	Pix:    BankTransfer,
	Boleto: Voucher, Oxxo: Voucher,
	UpiCollect: Upi, UpiIntent: Upi,
	CryptoCurrency: Crypto,
	ClassicReward:  Reward, Evoucher: Reward,
	Givex: GiftCard, PaySafeCard: GiftCard,
	DuitNow:              RealTimePayment,
	OpenBankingUK:        OpenBanking,
	DirectCarrierBilling: MobilePayment,
}

func (p PaymentMethodType) Value() Value { return Value{Key: KeyPaymentMethodType, Text: string(p)} }

// Parent returns the payment method the type belongs to.
func (p PaymentMethodType) Parent() PaymentMethod { return methodTypeParents[p] }

// CardNetwork is a card scheme.
type CardNetwork string

const (
	Visa            CardNetwork = "Visa"
	Mastercard      CardNetwork = "Mastercard"
	AmericanExpress CardNetwork = "AmericanExpress"
	JCB             CardNetwork = "JCB"
	DinersClub      CardNetwork = "DinersClub"
	Discover        CardNetwork = "Discover"
	CartesBancaires CardNetwork = "CartesBancaires"
	UnionPay        CardNetwork = "UnionPay"
	Interac         CardNetwork = "Interac"
	RuPay           CardNetwork = "RuPay"
	Maestro         CardNetwork = "Maestro"
)

func (c CardNetwork) Value() Value { return Value{Key: KeyCardNetwork, Text: string(c)} }

// Connector is a downstream payment processor.
type Connector string

const (
	Adyen           Connector = "adyen"
	Airwallex       Connector = "airwallex"
	Authorizedotnet Connector = "authorizedotnet"
	Bambora         Connector = "bambora"
	Bankofamerica   Connector = "bankofamerica"
	Bluesnap        Connector = "bluesnap"
	Braintree       Connector = "braintree"
	Checkout        Connector = "checkout"
	Cybersource     Connector = "cybersource"
	Dlocal          Connector = "dlocal"
	Fiserv          Connector = "fiserv"
	Globalpay       Connector = "globalpay"
	KlarnaConnector Connector = "klarna"
	Mollie          Connector = "mollie"
	Multisafepay    Connector = "multisafepay"
	Nexinets        Connector = "nexinets"
	Noon            Connector = "noon"
	Nuvei           Connector = "nuvei"
	PaypalConnector Connector = "paypal"
	Payu            Connector = "payu"
	Rapyd           Connector = "rapyd"
	Shift4          Connector = "shift4"
	Square          Connector = "square"
	Stripe          Connector = "stripe"
	Trustpay        Connector = "trustpay"
	Worldline       Connector = "worldline"
	Worldpay        Connector = "worldpay"
	Zen             Connector = "zen"
)

func (c Connector) Value() Value { return Value{Key: KeyConnector, Text: string(c)} }

// ParseConnector validates a connector name.
func ParseConnector(name string) (Connector, error) {
	v, err := ParseValue(KeyConnector, name)
	if err != nil {
		return "", err
	}
	return Connector(v.Text), nil
}

// CaptureMethod is how funds are captured after authorization.
type CaptureMethod string

const (
	CaptureAutomatic           CaptureMethod = "automatic"
	CaptureManual              CaptureMethod = "manual"
	CaptureManualMultiple      CaptureMethod = "manual_multiple"
	CaptureScheduled           CaptureMethod = "scheduled"
	CaptureSequentialAutomatic CaptureMethod = "sequential_automatic"
)

func (c CaptureMethod) Value() Value { return Value{Key: KeyCaptureMethod, Text: string(c)} }

// AuthenticationType selects 3DS.
type AuthenticationType string

const (
	ThreeDS   AuthenticationType = "three_ds"
	NoThreeDS AuthenticationType = "no_three_ds"
)

func (a AuthenticationType) Value() Value { return Value{Key: KeyAuthenticationType, Text: string(a)} }

// SetupFutureUsage marks payments stored for later use.
type SetupFutureUsage string

const (
	OffSession SetupFutureUsage = "off_session"
	OnSession  SetupFutureUsage = "on_session"
)

func (s SetupFutureUsage) Value() Value { return Value{Key: KeySetupFutureUsage, Text: string(s)} }

// PaymentType distinguishes mandate flows.
type PaymentType string

const (
	PaymentNormal           PaymentType = "normal"
	PaymentNewMandate       PaymentType = "new_mandate"
	PaymentSetupMandate     PaymentType = "setup_mandate"
	PaymentNonMandate       PaymentType = "non_mandate"
	PaymentRecurringMandate PaymentType = "recurring_mandate"
	PaymentUpdateMandate    PaymentType = "update_mandate"
)

func (p PaymentType) Value() Value { return Value{Key: KeyPaymentType, Text: string(p)} }

type variantIndex struct {
	ordered []string
	byFold  map[string]string
}

func newVariantIndex(variants []string) variantIndex {
	idx := variantIndex{ordered: variants, byFold: make(map[string]string, len(variants))}
	for _, v := range variants {
		idx.byFold[strings.ToLower(v)] = v
	}
	return idx
}

func variantsOf[T ~string](vs ...T) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = string(v)
	}
	return out
}

func methodTypeVariants() []string {
	out := make([]string, 0, len(methodTypeParents))
	for _, t := range []PaymentMethodType{
		Credit, Debit, Knet, ApplePay, GooglePay, Paypal, SamsungPay, WeChatPay, AliPay,
		Klarna, Affirm, AfterpayClearpay, Ideal, Sofort, Giropay, Eps, Przelewy24, Trustly,
		Ach, Sepa, Bacs, Becs, Pix, Boleto, Oxxo, UpiCollect, UpiIntent, CryptoCurrency,
		ClassicReward, Evoucher, Givex, PaySafeCard, DuitNow, OpenBankingUK, DirectCarrierBilling,
	} {
		out = append(out, string(t))
	}
	return out
}

// Closed enumerations. ISO keys are handled in iso.go.
var enumVariants = map[Key]variantIndex{
	KeyPaymentMethod: newVariantIndex(variantsOf(
		Card, CardRedirect, PayLater, Wallet, BankRedirect, BankTransfer, BankDebit, Crypto,
		Reward, Upi, Voucher, GiftCard, RealTimePayment, OpenBanking, MobilePayment,
	)),
	KeyPaymentMethodType: newVariantIndex(methodTypeVariants()),
	KeyCardNetwork: newVariantIndex(variantsOf(
		Visa, Mastercard, AmericanExpress, JCB, DinersClub, Discover, CartesBancaires,
		UnionPay, Interac, RuPay, Maestro,
	)),
	KeyConnector: newVariantIndex(variantsOf(
		Adyen, Airwallex, Authorizedotnet, Bambora, Bankofamerica, Bluesnap, Braintree, Checkout,
		Cybersource, Dlocal, Fiserv, Globalpay, KlarnaConnector, Mollie, Multisafepay, Nexinets,
		Noon, Nuvei, PaypalConnector, Payu, Rapyd, Shift4, Square, Stripe, Trustpay, Worldline,
		Worldpay, Zen,
	)),
	KeyCaptureMethod: newVariantIndex(variantsOf(
		CaptureAutomatic, CaptureManual, CaptureManualMultiple, CaptureScheduled, CaptureSequentialAutomatic,
	)),
	KeyAuthenticationType: newVariantIndex(variantsOf(ThreeDS, NoThreeDS)),
	KeySetupFutureUsage:   newVariantIndex(variantsOf(OffSession, OnSession)),
	KeyPaymentType: newVariantIndex(variantsOf(
		PaymentNormal, PaymentNewMandate, PaymentSetupMandate, PaymentNonMandate,
		PaymentRecurringMandate, PaymentUpdateMandate,
	)),
}

func canonicalVariant(key Key, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if isISOKey(key) {
		return canonicalISO(key, raw)
	}
	idx, ok := enumVariants[key]
	if !ok {
		return "", fmt.Errorf("%w: %s has no enumerated variants", ErrKindMismatch, key)
	}
	canon, ok := idx.byFold[strings.ToLower(raw)]
	if !ok {
		return "", fmt.Errorf("%w: %s=%q", ErrUnknownValue, key, raw)
	}
	return canon, nil
}

// Enumerate lists the legal values of an enum key in declaration order. For
// country and currency keys it lists the curated set of routed codes; any
// other ISO code still parses. Number keys enumerate nothing.
func Enumerate(key Key) []Value {
	var variants []string
	switch {
	case isISOKey(key):
		variants = isoEnumeration(key)
	case key.Kind() == KindEnum:
		variants = enumVariants[key].ordered
	default:
		return nil
	}
	out := make([]Value, len(variants))
	for i, v := range variants {
		out[i] = Value{Key: key, Text: v}
	}
	return out
}
