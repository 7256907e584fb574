package model

import (
	"encoding/json"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// StepList 是接口切片，默认 BSON 编解码无法还原具体变体。
// 这里复用 JSON 信封编解码：BSON 里同样存成带 type 字段的对象数组，
// 两种存储后端的磁盘形态保持一致。

// MarshalBSONValue 实现 bson.ValueMarshaler
func (l StepList) MarshalBSONValue() (byte, []byte, error) {
	envelope, err := json.Marshal(l)
	if err != nil {
		return 0, nil, err
	}
	var arr []interface{}
	if err := json.Unmarshal(envelope, &arr); err != nil {
		return 0, nil, err
	}
	t, data, err := bson.MarshalValue(arr)
	return byte(t), data, err
}

// UnmarshalBSONValue 实现 bson.ValueUnmarshaler
func (l *StepList) UnmarshalBSONValue(t byte, data []byte) error {
	raw := bson.RawValue{Type: bson.Type(t), Value: data}
	var arr []interface{}
	if err := raw.Unmarshal(&arr); err != nil {
		return err
	}
	envelope, err := json.Marshal(arr)
	if err != nil {
		return err
	}
	return l.UnmarshalJSON(envelope)
}
