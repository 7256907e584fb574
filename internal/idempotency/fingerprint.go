package idempotency

import (
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/zeebo/blake3"
)

// CanonicalText 规范化自由文本：统一小写、压缩空白
//
// "  Build My   DAILY digest " 和 "build my daily digest" 指纹相同。
func CanonicalText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// FingerprintMap 计算规范化表单的 BLAKE3 指纹（hex）
//
// 调用方先做字段归一化（自由文本过 CanonicalText、布尔字段补默认值），
// 这里只负责规范序列化和哈希。encoding/json 对 map 键做字典序输出，
// 同一组字段必然得到同一串字节。指纹只做去重键，不做安全令牌。
func FingerprintMap(fields map[string]interface{}) (string, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
