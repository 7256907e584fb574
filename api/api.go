// Package api 内嵌 OpenAPI 规格与文档页面
//
// 规格文件随二进制发布，启动时用 Load 校验一次，保证内嵌规格
// 与代码一起演进时始终合法。
package api

import (
	"context"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/oasdiff/yaml"
)

// Spec 返回 openapi.yaml 原文
func Spec() []byte {
	data, err := OpenAPIFS.ReadFile("openapi/openapi.yaml")
	if err != nil {
		// embed 保证文件存在，读取失败只可能是路径写错
		panic(fmt.Sprintf("read embedded openapi spec: %v", err))
	}
	return data
}

// SpecJSON 返回转换为 JSON 的规格（Swagger UI 等工具偏好 JSON）
func SpecJSON() ([]byte, error) {
	data, err := yaml.YAMLToJSON(Spec())
	if err != nil {
		return nil, fmt.Errorf("convert openapi spec to json: %w", err)
	}
	return data, nil
}

// Load 解析并校验内嵌的 OpenAPI 规格
func Load() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(Spec())
	if err != nil {
		return nil, fmt.Errorf("parse openapi spec: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate openapi spec: %w", err)
	}
	return doc, nil
}

// DocsHTML 返回 API 文档页面
func DocsHTML() []byte {
	data, err := DocsFS.ReadFile("docs/index.html")
	if err != nil {
		panic(fmt.Sprintf("read embedded docs page: %v", err))
	}
	return data
}
