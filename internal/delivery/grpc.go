package delivery

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// Метод коллектора для доставки по gRPC. Сервис описан вручную:
// запрос — google.protobuf.Struct с полями Report, ответ — google.protobuf.Empty.
const (
	CollectorService  = "reqtrail.v1.Collector"
	DeliverMethod     = "Deliver"
	DeliverFullMethod = "/" + CollectorService + "/" + DeliverMethod
)

// ToStruct конвертирует Report в protobuf Struct через JSON.
func ToStruct(rep Report) (*structpb.Struct, error) {
	data, err := json.Marshal(rep)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create proto struct: %w", err)
	}
	return st, nil
}

// FromStruct — обратное преобразование на стороне коллектора.
func FromStruct(st *structpb.Struct) (Report, error) {
	data, err := json.Marshal(st.AsMap())
	if err != nil {
		return Report{}, fmt.Errorf("failed to marshal struct: %w", err)
	}
	var rep Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return Report{}, fmt.Errorf("failed to decode report: %w", err)
	}
	return rep, nil
}
