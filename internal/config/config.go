package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all settings for the art market API. Provider blocks are
// optional: a block is enabled as soon as its key credential is set, and an
// enabled block must be complete.
type Config struct {
	Service string `validate:"required"`
	Env     string `validate:"required"`
	LogFile string

	HTTP      HTTPConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Inventory InventoryConfig
	Payment   PaymentConfig

	Redis      RedisConfig      `validate:"-"`
	Kafka      KafkaConfig      `validate:"-"`
	Stripe     StripeConfig     `validate:"-"`
	Pesapal    PesapalConfig    `validate:"-"`
	DPO        DPOConfig        `validate:"-"`
	PayPal     PayPalConfig     `validate:"-"`
	Cloudinary CloudinaryConfig `validate:"-"`
	SMTP       SMTPConfig       `validate:"-"`
}

type HTTPConfig struct {
	Addr        string `validate:"required"`
	CORSOrigins string `validate:"required"`
}

type DatabaseConfig struct {
	URL          string `validate:"required"`
	MaxOpenConns int    `validate:"gte=1"`
	MaxIdleConns int    `validate:"gte=0"`
	AutoMigrate  bool
}

type AuthConfig struct {
	JWTSecret string `validate:"required"`
}

type InventoryConfig struct {
	ReservationTTL time.Duration `validate:"gt=0"`
	SweepSpec      string        `validate:"required"`
}

type PaymentConfig struct {
	Currency        string        `validate:"required,len=3"`
	InitiateTimeout time.Duration `validate:"gt=0"`
	ReconcileSpec   string        `validate:"required"`
	// ReconcileAfter is how long an order may wait on a provider before the
	// background job polls the provider for it.
	ReconcileAfter time.Duration `validate:"gt=0"`
	UseMock        bool
	MockReturnURL  string `validate:"required_if=UseMock true"`
	MerchantName   string `validate:"required"`
	MerchantEmail  string `validate:"omitempty,email"`
}

type RedisConfig struct {
	Addr     string `validate:"required"`
	Password string
	DB       int `validate:"gte=0"`
}

func (c RedisConfig) Enabled() bool { return c.Addr != "" }

type KafkaConfig struct {
	Brokers []string `validate:"required,min=1,dive,required"`
	Topic   string   `validate:"required"`
}

func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }

type StripeConfig struct {
	SecretKey     string `validate:"required"`
	WebhookSecret string `validate:"required"`
	SuccessURL    string `validate:"required,url"`
	CancelURL     string `validate:"required,url"`
}

func (c StripeConfig) Enabled() bool { return c.SecretKey != "" }

type PesapalConfig struct {
	BaseURL        string `validate:"required,url"`
	ConsumerKey    string `validate:"required"`
	ConsumerSecret string `validate:"required"`
	CallbackURL    string `validate:"required,url"`
	NotificationID string `validate:"required"`
}

func (c PesapalConfig) Enabled() bool { return c.ConsumerKey != "" }

type DPOConfig struct {
	APIURL         string `validate:"required,url"`
	PaymentPageURL string `validate:"required,url"`
	CompanyToken   string `validate:"required"`
	ServiceType    string `validate:"required"`
	RedirectURL    string `validate:"required,url"`
	BackURL        string `validate:"required,url"`
	Currency       string `validate:"required,len=3"`
}

func (c DPOConfig) Enabled() bool { return c.CompanyToken != "" }

type PayPalConfig struct {
	ClientID     string `validate:"required"`
	ClientSecret string `validate:"required"`
	BaseURL      string `validate:"required,url"`
	ReturnURL    string `validate:"required,url"`
	CancelURL    string `validate:"required,url"`
}

func (c PayPalConfig) Enabled() bool { return c.ClientID != "" }

type CloudinaryConfig struct {
	CloudName string `validate:"required"`
	APIKey    string `validate:"required"`
	APISecret string `validate:"required"`
	Folder    string `validate:"required"`
}

func (c CloudinaryConfig) Enabled() bool { return c.CloudName != "" }

type SMTPConfig struct {
	Host     string `validate:"required"`
	Port     int    `validate:"gt=0"`
	Username string
	Password string
	From     string `validate:"required,email"`
}

func (c SMTPConfig) Enabled() bool { return c.Host != "" }

// Load reads .env (when present) and the process environment, then validates
// the result. Any error here is meant to stop the process at startup.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Service: getenv("SERVICE_NAME", "art-market-api"),
		Env:     getenv("APP_ENV", "development"),
		LogFile: os.Getenv("LOG_FILE"),
		HTTP: HTTPConfig{
			Addr:        getenv("HTTP_ADDR", ":8080"),
			CORSOrigins: getenv("CORS_ORIGINS", "*"),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: getInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getInt("DATABASE_MAX_IDLE_CONNS", 5),
			AutoMigrate:  getBool("DATABASE_AUTO_MIGRATE", true),
		},
		Auth: AuthConfig{JWTSecret: os.Getenv("JWT_SECRET")},
		Inventory: InventoryConfig{
			ReservationTTL: getDuration("RESERVATION_TTL", 30*time.Minute),
			SweepSpec:      getenv("RESERVATION_SWEEP_SPEC", "*/5 * * * *"),
		},
		Payment: PaymentConfig{
			Currency:        strings.ToUpper(getenv("PAYMENT_CURRENCY", "USD")),
			InitiateTimeout: getDuration("PAYMENT_INITIATE_TIMEOUT", 15*time.Second),
			ReconcileSpec:   getenv("PAYMENT_RECONCILE_SPEC", "*/15 * * * *"),
			ReconcileAfter:  getDuration("PAYMENT_RECONCILE_AFTER", 10*time.Minute),
			UseMock:         getBool("USE_MOCK_PAYMENT", false),
			MockReturnURL:   os.Getenv("MOCK_PAYMENT_RETURN_URL"),
			MerchantName:    getenv("MERCHANT_NAME", "Art Market"),
			MerchantEmail:   os.Getenv("MERCHANT_EMAIL"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:   getenv("KAFKA_PAYMENT_TOPIC", "payment-events"),
		},
		Stripe: StripeConfig{
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
			SuccessURL:    os.Getenv("STRIPE_SUCCESS_URL"),
			CancelURL:     os.Getenv("STRIPE_CANCEL_URL"),
		},
		Pesapal: PesapalConfig{
			BaseURL:        getenv("PESAPAL_BASE_URL", "https://cybqa.pesapal.com/pesapalv3"),
			ConsumerKey:    os.Getenv("PESAPAL_CONSUMER_KEY"),
			ConsumerSecret: os.Getenv("PESAPAL_CONSUMER_SECRET"),
			CallbackURL:    os.Getenv("PESAPAL_CALLBACK_URL"),
			NotificationID: os.Getenv("PESAPAL_IPN_ID"),
		},
		DPO: DPOConfig{
			APIURL:         getenv("DPO_API_URL", "https://secure.3gdirectpay.com"),
			PaymentPageURL: getenv("DPO_PAYMENT_PAGE", "https://secure.3gdirectpay.com/payv2.php"),
			CompanyToken:   os.Getenv("DPO_COMPANY_TOKEN"),
			ServiceType:    os.Getenv("DPO_SERVICE_TYPE"),
			RedirectURL:    os.Getenv("DPO_REDIRECT_URL"),
			BackURL:        os.Getenv("DPO_BACK_URL"),
			Currency:       strings.ToUpper(getenv("DPO_CURRENCY", "UGX")),
		},
		PayPal: PayPalConfig{
			ClientID:     os.Getenv("PAYPAL_CLIENT_ID"),
			ClientSecret: os.Getenv("PAYPAL_CLIENT_SECRET"),
			BaseURL:      getenv("PAYPAL_BASE_URL", "https://api-m.sandbox.paypal.com"),
			ReturnURL:    os.Getenv("PAYPAL_RETURN_URL"),
			CancelURL:    os.Getenv("PAYPAL_CANCEL_URL"),
		},
		Cloudinary: CloudinaryConfig{
			CloudName: os.Getenv("CLOUDINARY_CLOUD_NAME"),
			APIKey:    os.Getenv("CLOUDINARY_API_KEY"),
			APISecret: os.Getenv("CLOUDINARY_API_SECRET"),
			Folder:    getenv("CLOUDINARY_RECEIPT_FOLDER", "receipts"),
		},
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     getInt("SMTP_PORT", 587),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     os.Getenv("SMTP_FROM"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the required blocks and every enabled optional block.
func (c Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	optional := []struct {
		name    string
		enabled bool
		block   any
	}{
		{"redis", c.Redis.Enabled(), c.Redis},
		{"kafka", c.Kafka.Enabled(), c.Kafka},
		{"stripe", c.Stripe.Enabled(), c.Stripe},
		{"pesapal", c.Pesapal.Enabled(), c.Pesapal},
		{"dpo", c.DPO.Enabled(), c.DPO},
		{"paypal", c.PayPal.Enabled(), c.PayPal},
		{"cloudinary", c.Cloudinary.Enabled(), c.Cloudinary},
		{"smtp", c.SMTP.Enabled(), c.SMTP},
	}
	for _, o := range optional {
		if !o.enabled {
			continue
		}
		if err := v.Struct(o.block); err != nil {
			return fmt.Errorf("config %s: %w", o.name, err)
		}
	}

	if !c.Payment.UseMock && !c.Stripe.Enabled() && !c.Pesapal.Enabled() && !c.DPO.Enabled() && !c.PayPal.Enabled() {
		return fmt.Errorf("config: no payment provider configured (set USE_MOCK_PAYMENT=true for local runs)")
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
