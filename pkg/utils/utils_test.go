package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenMessageID(t *testing.T) {
	SetupIDWorker(1)

	a, b := GenMessageID(), GenMessageID()
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^\d+$`, a)
}

func TestGenRequestID(t *testing.T) {
	assert.Len(t, GenRequestID(), 36)
	assert.Len(t, GenRandomID(), 32)
}

func Test_ParseAcceptLanguage(t *testing.T) {
	res := ParseAcceptLanguage("en;q=0.7,zh-CN,zh;q=0.9")
	assert.Equal(t, []Language{
		{Tag: "zh-CN", Weight: 1},
		{Tag: "zh", Weight: 0.9},
		{Tag: "en", Weight: 0.7},
	}, res)
	assert.Empty(t, ParseAcceptLanguage(""))
}

func TestClientLang(t *testing.T) {
	cases := []struct {
		header string
		text   string
		want   string
	}{
		{"zh-CN,zh;q=0.9", "hello", "zh-CN"},
		{"en-US,en;q=0.8", "你好，请介绍一下这份报告的主要内容", "en"},
		{"", "你好，请介绍一下这份报告的主要内容", "zh-CN"},
		{"", "what is in the quarterly report?", "en"},
		{"", "", "en"},
		{"de-DE", "", "en"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ClientLang(c.header, c.text), "%q %q", c.header, c.text)
	}
}
