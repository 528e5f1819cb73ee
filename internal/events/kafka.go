package events

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/sirupsen/logrus"
)

// KafkaAuth параметры подключения к управляемому Kafka (SASL/PLAIN + TLS)
type KafkaAuth struct {
	Username string
	Password string
	CACert   string
}

func (a KafkaAuth) mechanism() sasl.Mechanism {
	if a.Username == "" || a.Password == "" {
		return nil
	}
	return plain.Mechanism{Username: a.Username, Password: a.Password}
}

// tlsConfig TLS включается вместе с SASL или при наличии CA сертификата
func (a KafkaAuth) tlsConfig(log *logrus.Logger) *tls.Config {
	if a.mechanism() == nil && a.CACert == "" {
		return nil
	}
	cfg := &tls.Config{}
	if a.CACert != "" {
		pool := x509.NewCertPool()
		if pool.AppendCertsFromPEM([]byte(a.CACert)) {
			cfg.RootCAs = pool
			log.Info("🔒 Kafka: TLS с CA сертификатом включен")
		} else {
			log.Warn("⚠️ Kafka: не удалось распарсить CA сертификат, используем системные сертификаты")
		}
	}
	return cfg
}

// NewKafkaDialer dialer для Reader
func NewKafkaDialer(auth KafkaAuth, log *logrus.Logger) *kafka.Dialer {
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
		TLS:       auth.tlsConfig(log),
	}
	if m := auth.mechanism(); m != nil {
		dialer.SASLMechanism = m
		log.WithField("username", auth.Username).Info("🔐 Kafka: SASL/PLAIN аутентификация включена")
	}
	return dialer
}

// ParseKafkaBrokers парсит строку с брокерами через запятую
func ParseKafkaBrokers(brokers string) []string {
	var result []string
	for _, broker := range strings.Split(strings.ReplaceAll(brokers, " ", ""), ",") {
		if broker != "" {
			result = append(result, broker)
		}
	}
	return result
}

// KafkaPublisher пишет события движения в топик; ключ - ID ингредиента,
// чтобы события одного ингредиента шли в одну партицию по порядку
type KafkaPublisher struct {
	writer *kafka.Writer
	log    *logrus.Logger
	sent   int64
}

func NewKafkaPublisher(brokers []string, topic string, auth KafkaAuth, log *logrus.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Transport: &kafka.Transport{
			SASL: auth.mechanism(),
			TLS:  auth.tlsConfig(log),
		},
	}
	log.WithFields(logrus.Fields{"brokers": brokers, "topic": topic}).Info("✅ Kafka producer подключен")
	return &KafkaPublisher{writer: writer, log: log}
}

// PublishMovement отправляет асинхронно: контекст запроса к этому моменту может быть отменен
func (p *KafkaPublisher) PublishMovement(_ context.Context, event MovementEvent) {
	payload, err := event.Encode()
	if err != nil {
		p.log.WithError(err).Error("❌ Kafka: не удалось сериализовать событие")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := p.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(strconv.FormatUint(uint64(event.IngredientID), 10)),
			Value: payload,
			Time:  event.At,
		})
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				p.log.WithFields(logrus.Fields{
					"movement_id":   event.MovementID,
					"ingredient_id": event.IngredientID,
				}).Warnf("⚠️ Kafka error при отправке движения: %v", err)
			}
			return
		}
		if n := atomic.AddInt64(&p.sent, 1); n <= 10 {
			p.log.WithField("movement_id", event.MovementID).Debug("✅ Kafka: движение отправлено")
		}
	}()
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaConsumer читает события движения и передает их handler
// (в каждом экземпляре сервиса - в локальный WebSocket hub)
type KafkaConsumer struct {
	reader  *kafka.Reader
	handler func(MovementEvent)
	log     *logrus.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewKafkaConsumer(brokers []string, topic, groupID string, auth KafkaAuth, handler func(MovementEvent), log *logrus.Logger) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     1 * time.Second,
		Dialer:      NewKafkaDialer(auth, log),
	})
	return &KafkaConsumer{reader: reader, handler: handler, log: log, done: make(chan struct{})}
}

// Start запускает чтение в отдельной горутине
func (c *KafkaConsumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.log.WithField("topic", c.reader.Config().Topic).Info("📡 Kafka consumer движений запущен")

	go func() {
		defer close(c.done)
		for {
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					c.log.Info("🛑 Kafka consumer движений остановлен")
					return
				}
				c.log.Warnf("⚠️ Kafka consumer ошибка чтения: %v", err)
				time.Sleep(1 * time.Second)
				continue
			}
			event, err := DecodeMovementEvent(msg.Value)
			if err != nil {
				c.log.WithField("offset", msg.Offset).Warnf("⚠️ Kafka consumer: некорректное событие: %v", err)
				continue
			}
			c.handler(event)
		}
	}()
}

func (c *KafkaConsumer) Close() error {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	return c.reader.Close()
}
