package connector

import (
	"context"
	"encoding/json"
	"time"

	"coin-trader/internal/infrastructure"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const DefaultUpbitWSURL = "wss://api.upbit.com/websocket/v1"

// Tick is one real-time trade price for a market.
type Tick struct {
	Market string          `json:"market"`
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
	Time   time.Time       `json:"time"`
}

// UpbitTickerStream subscribes to Upbit's ticker websocket and reconnects with backoff.
type UpbitTickerStream struct {
	logger  *zap.Logger
	url     string
	markets []string
}

func NewUpbitTickerStream(logger *zap.Logger, url string, markets ...string) *UpbitTickerStream {
	if url == "" {
		url = DefaultUpbitWSURL
	}
	return &UpbitTickerStream{
		logger:  logger,
		url:     url,
		markets: markets,
	}
}

// UpbitTickerEvent is the ticker message pushed by Upbit.
type UpbitTickerEvent struct {
	Type           string  `json:"type"`
	Code           string  `json:"code"`
	TradePrice     float64 `json:"trade_price"`
	TradeVolume    float64 `json:"trade_volume"`
	TradeTimestamp int64   `json:"trade_timestamp"`
}

func (s *UpbitTickerStream) Run(ctx context.Context, tickChan chan<- Tick) {
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.logger.Info("connecting to upbit websocket", zap.String("url", s.url))
		dialer := websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		}
		conn, _, err := dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			s.logger.Error("failed to connect to upbit", zap.Error(err))
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = s.increaseBackoff(backoff)
			continue
		}

		backoff = time.Second
		s.logger.Info("connected to upbit websocket", zap.Strings("markets", s.markets))

		if err := s.handleConnection(ctx, conn, tickChan); err != nil {
			s.logger.Error("connection closed with error", zap.Error(err))
		}
		conn.Close()
	}
}

func (s *UpbitTickerStream) subscribeMessage() []interface{} {
	return []interface{}{
		map[string]string{"ticket": uuid.NewString()},
		map[string]interface{}{"type": "ticker", "codes": s.markets},
	}
}

func (s *UpbitTickerStream) handleConnection(ctx context.Context, conn *websocket.Conn, tickChan chan<- Tick) error {
	if err := conn.WriteJSON(s.subscribeMessage()); err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			// Upbit sends ticker frames as binary JSON
			_, message, err := conn.ReadMessage()
			if err != nil {
				return err
			}
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			var event UpbitTickerEvent
			if err := json.Unmarshal(message, &event); err != nil {
				s.logger.Error("failed to unmarshal upbit ticker event", zap.Error(err))
				continue
			}
			if event.Type != "ticker" {
				continue
			}

			tick := s.convertToModel(event)
			infrastructure.TicksReceived.WithLabelValues(tick.Market).Inc()
			select {
			case tickChan <- tick:
			default:
				s.logger.Warn("tick channel full, dropping tick", zap.String("market", tick.Market))
			}
		}
	}
}

func (s *UpbitTickerStream) convertToModel(event UpbitTickerEvent) Tick {
	return Tick{
		Market: event.Code,
		Price:  decimal.NewFromFloat(event.TradePrice),
		Volume: decimal.NewFromFloat(event.TradeVolume),
		Time:   time.UnixMilli(event.TradeTimestamp).UTC(),
	}
}

func (s *UpbitTickerStream) increaseBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > time.Minute {
		return time.Minute
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
