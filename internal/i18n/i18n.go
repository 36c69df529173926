// Package i18n provides the minimal error-message catalog the API
// facade uses to translate a domain error Kind into a user-visible
// "detail" string, keyed by the locale derived from Accept-Language.
package i18n

import (
	"strings"

	"github.com/casinocore/wallet-engine/internal/walleterr"
)

// Locale identifies a supported message-catalog language.
type Locale string

const (
	LocaleEN Locale = "en"
	LocaleKO Locale = "ko"
)

var catalog = map[Locale]map[walleterr.Kind]string{
	LocaleEN: {
		walleterr.KindPlayerIDMismatch:            "The authenticated player does not match the request.",
		walleterr.KindPlayerNotFound:               "Player not found.",
		walleterr.KindWalletNotFound:                "Wallet not found.",
		walleterr.KindTransactionNotFound:          "Transaction not found.",
		walleterr.KindTransactionAlreadyProcessed:  "This transaction has already been processed.",
		walleterr.KindInsufficientFunds:            "Insufficient funds.",
		walleterr.KindInvalidAmount:                "The amount must be a positive value with at most two decimal places.",
		walleterr.KindInvalidCredentials:           "Invalid or expired credentials.",
		walleterr.KindInternal:                     "An unexpected error occurred.",
	},
	LocaleKO: {
		walleterr.KindPlayerIDMismatch:            "인증된 플레이어와 요청이 일치하지 않습니다.",
		walleterr.KindPlayerNotFound:               "플레이어를 찾을 수 없습니다.",
		walleterr.KindWalletNotFound:                "지갑을 찾을 수 없습니다.",
		walleterr.KindTransactionNotFound:          "거래를 찾을 수 없습니다.",
		walleterr.KindTransactionAlreadyProcessed:  "이미 처리된 거래입니다.",
		walleterr.KindInsufficientFunds:            "잔액이 부족합니다.",
		walleterr.KindInvalidAmount:                "금액은 0보다 크고 소수점 둘째 자리까지여야 합니다.",
		walleterr.KindInvalidCredentials:           "인증 정보가 유효하지 않거나 만료되었습니다.",
		walleterr.KindInternal:                     "예기치 않은 오류가 발생했습니다.",
	},
}

// ParseAcceptLanguage picks the best supported locale from an
// Accept-Language header value, defaulting to English.
func ParseAcceptLanguage(header string) Locale {
	for _, part := range strings.Split(header, ",") {
		tag := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		tag = strings.ToLower(tag)
		if strings.HasPrefix(tag, "ko") {
			return LocaleKO
		}
		if strings.HasPrefix(tag, "en") {
			return LocaleEN
		}
	}
	return LocaleEN
}

// Detail translates a domain error Kind into the detail string for
// the given locale, falling back to English and then to the Kind's
// raw string if nothing is catalogued.
func Detail(locale Locale, kind walleterr.Kind) string {
	if msgs, ok := catalog[locale]; ok {
		if msg, ok := msgs[kind]; ok {
			return msg
		}
	}
	if msg, ok := catalog[LocaleEN][kind]; ok {
		return msg
	}
	return string(kind)
}
