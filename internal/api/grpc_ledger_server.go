package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"stockledger/server/internal/apperr"
	"stockledger/server/internal/config"
	"stockledger/server/internal/models"
	"stockledger/server/internal/services"
)

const ledgerServiceName = "stockledger.v1.LedgerService"

// LedgerServiceServer gRPC фасад движка. Сообщения - google.protobuf.Struct
// с теми же полями, что и JSON тела HTTP запросов
type LedgerServiceServer interface {
	RecordEntry(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Sell(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ledgerServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RecordEntry", Handler: ledgerUnaryHandler("RecordEntry", LedgerServiceServer.RecordEntry)},
		{MethodName: "Sell", Handler: ledgerUnaryHandler("Sell", LedgerServiceServer.Sell)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stockledger/v1/ledger.proto",
}

// unaryHandler сигнатура grpc.MethodDesc.Handler
type unaryHandler = func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error)

func ledgerUnaryHandler(method string, call func(LedgerServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) unaryHandler {
	fullMethod := "/" + ledgerServiceName + "/" + method
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LedgerServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(LedgerServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RegisterLedgerServiceServer регистрирует сервис на grpc.Server
func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&LedgerServiceDesc, srv)
}

// LedgerGRPCServer реализация поверх тех же сервисов, что и HTTP
type LedgerGRPCServer struct {
	stockService *services.StockService
	saleService  *services.SaleService
	log          *logrus.Logger
}

func NewLedgerGRPCServer(stock *services.StockService, sales *services.SaleService, log *logrus.Logger) *LedgerGRPCServer {
	return &LedgerGRPCServer{stockService: stock, saleService: sales, log: log}
}

func (s *LedgerGRPCServer) RecordEntry(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()
	req := &models.EntryRequest{
		MovementKind: stringField(fields, "movement_kind"),
		Note:         stringField(fields, "note"),
	}
	id, err := uintField(fields, "ingredient_id")
	if err != nil {
		return nil, s.statusError("RecordEntry", err)
	}
	req.IngredientID = id
	req.Quantity = numberField(fields, "quantity")

	result, err := s.stockService.RecordEntry(ctx, req)
	if err != nil {
		return nil, s.statusError("RecordEntry", err)
	}
	return structpb.NewStruct(map[string]interface{}{
		"message":         result.Message,
		"ingredient_id":   float64(result.Ingredient.ID),
		"ingredient_name": result.Ingredient.Name,
		"current_stock":   result.Ingredient.CurrentStock.String(),
		"movement_id":     float64(result.Movement.ID),
	})
}

func (s *LedgerGRPCServer) Sell(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()
	productID, err := uintField(fields, "product_id")
	if err != nil {
		return nil, s.statusError("Sell", err)
	}
	units, err := uintField(fields, "units_sold")
	if err != nil {
		return nil, s.statusError("Sell", err)
	}
	if units > math.MaxInt32 {
		return nil, s.statusError("Sell", apperr.Validation([]string{"Поле 'units_sold' слишком велико."}))
	}

	result, err := s.saleService.Sell(ctx, &models.SaleRequest{
		ProductID: productID,
		UnitsSold: int(units),
		Note:      stringField(fields, "note"),
	})
	if err != nil {
		return nil, s.statusError("Sell", err)
	}
	return structpb.NewStruct(map[string]interface{}{
		"message":   result.Message,
		"sale_id":   float64(result.SaleID),
		"movements": float64(len(result.Movements)),
		"total":     result.Sale.TotalAmount.StringFixed(2),
	})
}

// statusError тег ошибки -> код gRPC
func (s *LedgerGRPCServer) statusError(funcName string, err error) error {
	e := apperr.From(err)
	var code codes.Code
	switch e.Kind {
	case apperr.KindValidation, apperr.KindInvalidQuantity:
		code = codes.InvalidArgument
	case apperr.KindNotFound:
		code = codes.NotFound
	case apperr.KindInsufficientStock:
		code = codes.FailedPrecondition
	case apperr.KindIntegrityConflict:
		code = codes.AlreadyExists
	case apperr.KindLockTimeout:
		code = codes.Aborted
	default:
		config.LogError(s.log, "grpc", funcName, "", map[string]string{"correlation_id": e.CorrelationID}, err)
		return status.Errorf(codes.Internal, "%s (correlation_id: %s)", e.Message, e.CorrelationID)
	}

	msg := e.Message
	if len(e.Details) > 0 {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Details)
	}
	return status.Errorf(code, "%s: %s", e.Kind, msg)
}

func stringField(fields map[string]*structpb.Value, key string) string {
	if v, ok := fields[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

// numberField количество как строка ("1.250") или число; nil если поля нет
func numberField(fields map[string]*structpb.Value, key string) *json.Number {
	v, ok := fields[key]
	if !ok {
		return nil
	}
	var n json.Number
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		n = json.Number(kind.StringValue)
	case *structpb.Value_NumberValue:
		n = json.Number(strconv.FormatFloat(kind.NumberValue, 'f', -1, 64))
	default:
		n = json.Number("")
	}
	return &n
}

func uintField(fields map[string]*structpb.Value, key string) (uint, error) {
	v, ok := fields[key]
	if !ok {
		return 0, nil
	}
	var raw float64
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		raw = kind.NumberValue
	case *structpb.Value_StringValue:
		parsed, err := strconv.ParseUint(kind.StringValue, 10, 32)
		if err != nil {
			return 0, apperr.Validation([]string{fmt.Sprintf("Поле '%s' должно быть положительным целым.", key)})
		}
		return uint(parsed), nil
	default:
		return 0, apperr.Validation([]string{fmt.Sprintf("Поле '%s' должно быть положительным целым.", key)})
	}
	if raw < 0 || raw != math.Trunc(raw) || raw > math.MaxUint32 {
		return 0, apperr.Validation([]string{fmt.Sprintf("Поле '%s' должно быть положительным целым.", key)})
	}
	return uint(raw), nil
}

// LedgerClient клиент сервиса (тесты, скрипты)
type LedgerClient struct {
	cc grpc.ClientConnInterface
}

func NewLedgerClient(cc grpc.ClientConnInterface) *LedgerClient {
	return &LedgerClient{cc: cc}
}

func (c *LedgerClient) RecordEntry(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ledgerServiceName+"/RecordEntry", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerClient) Sell(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ledgerServiceName+"/Sell", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
