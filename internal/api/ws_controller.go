package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	// дашборды открываются с других origin; ограничение - через CORS_ALLOWED_ORIGINS на HTTP уровне
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// WSController поток событий движения остатков
type WSController struct {
	hub *Hub
	log *logrus.Logger
}

func NewWSController(hub *Hub, log *logrus.Logger) *WSController {
	return &WSController{hub: hub, log: log}
}

// ServeMovements GET /ws/movements
func (wc *WSController) ServeMovements(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		wc.log.Warnf("⚠️ Ошибка обновления WebSocket соединения: %v", err)
		return
	}

	wc.hub.AddClient(conn)
	wc.log.Infof("📊 Дашборд подключен. Всего подключений: %d", wc.hub.GetClientsCount())

	defer func() {
		wc.hub.RemoveClient(conn)
		wc.log.Infof("📊 Дашборд отключен. Осталось подключений: %d", wc.hub.GetClientsCount())
	}()

	// читаем только для обработки close/ping
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				wc.log.Warnf("⚠️ WebSocket ошибка: %v", err)
			}
			return
		}
	}
}
