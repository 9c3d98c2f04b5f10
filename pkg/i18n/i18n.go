package i18n

import (
	"reflect"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangZH Language = "zh"
)

// Messages holds all translatable strings
type Messages struct {
	// System
	Starting           string
	ConfigLoaded       string
	UsingDBPath        string
	ServerListening    string
	ShuttingDown       string
	EngineServiceInit  string
	PaperMode          string
	ConfigLoadFailed   string
	DBInitFailed       string
	DBMigrationsFailed string
	StateLoadFailed    string
	APIServerError     string
	WatchlistSynced    string

	// Orders
	OrderWalEnabled       string
	PersistentQueueFailed string
	WalRecoveryError      string
	WalReplayed           string

	// Rejection taxonomy
	RejectNearExpiry        string
	RejectPositionLimit     string
	RejectInsufficientFunds string
	RejectMarketClosed      string
	RejectInvalidSymbol     string
	RejectTickSize          string
	RejectGeneric           string

	// Services
	ReconStarted     string
	FeedStarted      string
	MockFeedStarted  string
	HMASchedulerUp   string
	HMAServiceFailed string
}

var (
	currentLang Language = LangEN
	mu          sync.RWMutex
	messages    *Messages
)

// English messages
var messagesEN = Messages{
	// System
	Starting:           "Starting options signal engine...",
	ConfigLoaded:       "Config loaded (Port: %s)",
	UsingDBPath:        "Using DB path: %s",
	ServerListening:    "Server listening on :%s",
	ShuttingDown:       "Shutting down gracefully...",
	EngineServiceInit:  "Engine service initialized",
	PaperMode:          "Default trading mode is PAPER (orders fill in-process)",
	ConfigLoadFailed:   "Failed to load config: %v",
	DBInitFailed:       "Failed to init database: %v",
	DBMigrationsFailed: "Failed to apply migrations: %v",
	StateLoadFailed:    "Failed to load state: %v",
	APIServerError:     "API server error: %v",
	WatchlistSynced:    "Watchlist synced: %d symbols",

	// Orders
	OrderWalEnabled:       "Order WAL enabled at %s",
	PersistentQueueFailed: "Failed to open order WAL: %v",
	WalRecoveryError:      "Order WAL recovery error: %v",
	WalReplayed:           "Replayed %d unacknowledged order intents",

	// Rejection taxonomy
	RejectNearExpiry:        "Contract is blocked for trading close to expiry",
	RejectPositionLimit:     "Position or freeze quantity limit exceeded",
	RejectInsufficientFunds: "Insufficient funds or margin",
	RejectMarketClosed:      "Market is closed",
	RejectInvalidSymbol:     "Invalid or unknown instrument",
	RejectTickSize:          "Price is not a multiple of the tick size",
	RejectGeneric:           "Order rejected by broker",

	// Services
	ReconStarted:     "Reconciliation service started",
	FeedStarted:      "Market feed started: %s",
	MockFeedStarted:  "Mock market feed started",
	HMASchedulerUp:   "HMA scheduler started (timeframe %v)",
	HMAServiceFailed: "HMA service unavailable: %v",
}

// Chinese messages
var messagesZH = Messages{
	// System
	Starting:           "啟動期權訊號引擎...",
	ConfigLoaded:       "設定已載入（埠：%s）",
	UsingDBPath:        "資料庫路徑：%s",
	ServerListening:    "伺服器監聽 :%s",
	ShuttingDown:       "正在優雅關閉...",
	EngineServiceInit:  "引擎服務已初始化",
	PaperMode:          "預設為模擬交易模式（訂單在程序內成交）",
	ConfigLoadFailed:   "載入設定失敗：%v",
	DBInitFailed:       "初始化資料庫失敗：%v",
	DBMigrationsFailed: "套用遷移失敗：%v",
	StateLoadFailed:    "載入狀態失敗：%v",
	APIServerError:     "API 伺服器錯誤：%v",
	WatchlistSynced:    "自選清單已同步：%d 個合約",

	// Orders
	OrderWalEnabled:       "訂單 WAL 已啟用：%s",
	PersistentQueueFailed: "開啟訂單 WAL 失敗：%v",
	WalRecoveryError:      "訂單 WAL 恢復錯誤：%v",
	WalReplayed:           "已重送 %d 筆未確認的訂單",

	// Rejection taxonomy
	RejectNearExpiry:        "合約臨近到期，禁止交易",
	RejectPositionLimit:     "超過持倉或凍結數量限制",
	RejectInsufficientFunds: "資金或保證金不足",
	RejectMarketClosed:      "市場已收盤",
	RejectInvalidSymbol:     "無效或未知的合約",
	RejectTickSize:          "價格不是最小跳動單位的整數倍",
	RejectGeneric:           "訂單被券商拒絕",

	// Services
	ReconStarted:     "對帳服務已啟動",
	FeedStarted:      "行情訂閱已啟動：%s",
	MockFeedStarted:  "模擬行情訂閱已啟動",
	HMASchedulerUp:   "HMA 排程已啟動（週期 %v）",
	HMAServiceFailed: "HMA 服務不可用：%v",
}

func init() {
	messages = &messagesEN
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = lang
	switch lang {
	case LangZH:
		messages = &messagesZH
	default:
		messages = &messagesEN
	}
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	msg := M()
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}
