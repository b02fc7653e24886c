package utils

import (
	"strings"

	"github.com/abadojack/whatlanggo"

	"github.com/quka-ai/ragstream/pkg/i18n"
)

var whatLangOpts = whatlanggo.Options{
	Whitelist: map[whatlanggo.Lang]bool{
		whatlanggo.Eng: true,
		whatlanggo.Rus: true,
		whatlanggo.Cmn: true,
		whatlanggo.Fra: true,
		// ... pls issus
	},
}

func WhatLang(query string) string {
	info := whatlanggo.DetectWithOptions(query, whatLangOpts)
	return info.Lang.String()
}

// DetectLang maps the language of text to a supported message bundle.
func DetectLang(text string) string {
	if strings.TrimSpace(text) == "" {
		return i18n.DEFAULT_LANG
	}
	if whatlanggo.DetectWithOptions(text, whatLangOpts).Lang == whatlanggo.Cmn {
		return "zh-CN"
	}
	return i18n.DEFAULT_LANG
}

// ClientLang picks the bundle from an Accept-Language header, falling back to
// the language of text.
func ClientLang(acceptLanguage, text string) string {
	for _, l := range ParseAcceptLanguage(acceptLanguage) {
		if strings.HasPrefix(strings.ToLower(l.Tag), "zh") {
			return "zh-CN"
		}
		if i18n.ALLOW_LANG[l.Tag] || strings.HasPrefix(strings.ToLower(l.Tag), "en") {
			return i18n.DEFAULT_LANG
		}
	}
	return DetectLang(text)
}
