package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"stockledger/server/internal/api"
)

// Стресс-тест журнала остатков: параллельные продажи и поступления через
// gRPC, в конце сверка остатков через HTTP (/reports/reconciliation).
// Ожидаемые отказы (нехватка остатка, таймаут блокировки) считаются отдельно.

type counters struct {
	total        int64
	success      int64
	insufficient int64
	lockTimeouts int64
	failed       int64
}

func main() {
	grpcAddr := flag.String("grpc", "localhost:50051", "адрес gRPC сервера")
	httpAddr := flag.String("http", "http://localhost:8080", "адрес HTTP API")
	productID := flag.Uint("product", 1, "ID продукта для продаж")
	ingredientID := flag.Uint("ingredient", 1, "ID ингредиента для поступлений")
	workers := flag.Int("workers", 8, "количество воркеров")
	duration := flag.Duration("duration", 30*time.Second, "длительность теста")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	conn, err := grpc.NewClient(*grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("❌ Не удалось создать gRPC клиент %s: %v", *grpcAddr, err)
	}
	defer conn.Close()
	client := api.NewLedgerClient(conn)

	log.Infof("🚀 Стресс-тест: %d воркеров, %s, продукт #%d, ингредиент #%d", *workers, *duration, *productID, *ingredientID)

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	var stats counters
	started := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
			for ctx.Err() == nil {
				var err error
				// примерно каждый четвертый запрос - поступление
				if rnd.Intn(4) == 0 {
					_, err = client.RecordEntry(ctx, mustStruct(map[string]interface{}{
						"ingredient_id": float64(*ingredientID),
						"quantity":      fmt.Sprintf("%d.%03d", rnd.Intn(3), rnd.Intn(1000)+1),
						"note":          fmt.Sprintf("bomb worker %d", workerID),
					}))
				} else {
					_, err = client.Sell(ctx, mustStruct(map[string]interface{}{
						"product_id": float64(*productID),
						"units_sold": float64(rnd.Intn(3) + 1),
					}))
				}
				stats.record(err)
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				stats.print(log, time.Since(started))
			}
		}
	}()

	wg.Wait()
	close(done)
	stats.print(log, time.Since(started))

	if err := checkReconciliation(*httpAddr); err != nil {
		log.Fatalf("❌ Сверка остатков: %v", err)
	}
	log.Info("✅ Сверка остатков: расхождений нет")
}

func (c *counters) record(err error) {
	atomic.AddInt64(&c.total, 1)
	switch {
	case err == nil:
		atomic.AddInt64(&c.success, 1)
	case status.Code(err) == codes.FailedPrecondition:
		atomic.AddInt64(&c.insufficient, 1)
	case status.Code(err) == codes.Aborted:
		atomic.AddInt64(&c.lockTimeouts, 1)
	case status.Code(err) == codes.DeadlineExceeded || status.Code(err) == codes.Canceled:
		// конец теста
		atomic.AddInt64(&c.total, -1)
	default:
		atomic.AddInt64(&c.failed, 1)
	}
}

func (c *counters) print(log *logrus.Logger, elapsed time.Duration) {
	total := atomic.LoadInt64(&c.total)
	rps := float64(total) / elapsed.Seconds()
	log.WithFields(logrus.Fields{
		"total":         total,
		"success":       atomic.LoadInt64(&c.success),
		"insufficient":  atomic.LoadInt64(&c.insufficient),
		"lock_timeouts": atomic.LoadInt64(&c.lockTimeouts),
		"failed":        atomic.LoadInt64(&c.failed),
		"rps":           fmt.Sprintf("%.1f", rps),
	}).Info("📊 Статистика")
}

func checkReconciliation(httpAddr string) error {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(httpAddr + "/reports/reconciliation")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var body struct {
		OK     bool `json:"ok"`
		Report struct {
			Discrepancies []json.RawMessage `json:"discrepancies"`
		} `json:"report"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return err
	}
	if !body.OK {
		return fmt.Errorf("найдено расхождений: %d", len(body.Report.Discrepancies))
	}
	return nil
}

func mustStruct(m map[string]interface{}) *structpb.Struct {
	s, err := structpb.NewStruct(m)
	if err != nil {
		panic(err)
	}
	return s
}
