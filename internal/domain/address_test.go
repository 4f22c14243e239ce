package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddressPolicy_Normalize(t *testing.T) {
	policy := NewAddressPolicy("temp.mail")

	t.Run("去空白并小写", func(t *testing.T) {
		assert.Equal(t, "alice@temp.mail", policy.Normalize("  Alice@Temp.Mail \t"))
	})

	t.Run("规范化幂等", func(t *testing.T) {
		inputs := []string{"Foo@Temp.Mail", "  bob@temp.mail", "MIXED@CASE.COM."}
		for _, in := range inputs {
			once := policy.Normalize(in)
			assert.Equal(t, once, policy.Normalize(once))
		}
	})
}

func TestAddressPolicy_ExtractDomain(t *testing.T) {
	policy := NewAddressPolicy("temp.mail")

	t.Run("提取 @ 之后的域名", func(t *testing.T) {
		assert.Equal(t, "temp.mail", policy.ExtractDomain("alice@temp.mail"))
	})

	t.Run("去掉尖括号", func(t *testing.T) {
		assert.Equal(t, "temp.mail", policy.ExtractDomain("<alice@temp.mail>"))
	})

	t.Run("去掉一个结尾的点", func(t *testing.T) {
		assert.Equal(t, "example.com", policy.ExtractDomain("foo@Example.com."))
	})

	t.Run("取最后一个 @ 之后的部分", func(t *testing.T) {
		assert.Equal(t, "real.com", policy.ExtractDomain(`"odd@local"@real.com`))
	})

	t.Run("没有 @ 返回空串", func(t *testing.T) {
		assert.Equal(t, "", policy.ExtractDomain("not-an-address"))
	})

	t.Run("空输入返回空串", func(t *testing.T) {
		assert.Equal(t, "", policy.ExtractDomain(""))
	})
}

func TestAddressPolicy_IsAllowed(t *testing.T) {
	policy := NewAddressPolicy("temp.example.com")

	t.Run("本域名地址放行", func(t *testing.T) {
		assert.True(t, policy.IsAllowed("alice@temp.example.com"))
	})

	t.Run("大小写与结尾点不影响匹配", func(t *testing.T) {
		assert.True(t, policy.IsAllowed("Alice@Temp.Example.COM."))
	})

	t.Run("外部域名拒绝", func(t *testing.T) {
		assert.False(t, policy.IsAllowed("user@other-domain.com"))
	})

	t.Run("无域名拒绝", func(t *testing.T) {
		assert.False(t, policy.IsAllowed("no-at-sign"))
	})
}

func TestAddressPolicy_MakeAddress(t *testing.T) {
	policy := NewAddressPolicy("temp.mail")

	t.Run("过滤非法字符", func(t *testing.T) {
		addr, err := policy.MakeAddress("Bad!!Name")
		assert.NoError(t, err)
		assert.Equal(t, "badname@temp.mail", addr)
	})

	t.Run("保留点下划线连字符", func(t *testing.T) {
		addr, err := policy.MakeAddress("a.b_c-d")
		assert.NoError(t, err)
		assert.Equal(t, "a.b_c-d@temp.mail", addr)
	})

	t.Run("空前缀失败", func(t *testing.T) {
		_, err := policy.MakeAddress("")
		assert.ErrorIs(t, err, ErrInvalidLocalPart)
	})

	t.Run("过滤后为空失败", func(t *testing.T) {
		_, err := policy.MakeAddress("!!!")
		assert.ErrorIs(t, err, ErrInvalidLocalPart)
	})

	t.Run("65 个字符的前缀失败", func(t *testing.T) {
		_, err := policy.MakeAddress(strings.Repeat("a", 65))
		assert.ErrorIs(t, err, ErrInvalidLocalPart)
	})

	t.Run("64 个字符的前缀允许", func(t *testing.T) {
		addr, err := policy.MakeAddress(strings.Repeat("a", 64))
		assert.NoError(t, err)
		assert.Equal(t, strings.Repeat("a", 64)+"@temp.mail", addr)
	})
}

func TestAddressPolicy_RandomAddress(t *testing.T) {
	policy := NewAddressPolicy("temp.mail")

	t.Run("生成固定长度的本域名地址", func(t *testing.T) {
		addr := policy.RandomAddress()
		assert.True(t, strings.HasSuffix(addr, "@temp.mail"))
		local := strings.TrimSuffix(addr, "@temp.mail")
		assert.Len(t, local, 12)
		assert.Equal(t, strings.ToLower(local), local)
	})

	t.Run("连续生成互不相同", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			addr := policy.RandomAddress()
			assert.False(t, seen[addr])
			seen[addr] = true
		}
	})
}
