package main

import (
	"log"
	"net/http"
	"strings"

	"travel-booking/internal/config"
	"travel-booking/internal/logging"

	"github.com/spf13/viper"
)

func main() {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault("mock-port", "8085")
	v.SetDefault("mock-key-id", "rzp_test_mock")
	v.SetDefault("mock-key-secret", "rzp_test_mock_secret")
	_ = v.BindEnv("mock-key-id", "RAZORPAY_KEY_ID")
	_ = v.BindEnv("mock-key-secret", "RAZORPAY_KEY_SECRET")

	logger := logging.GetLogger(config.Logs{Level: v.GetString("log-level")})
	gw := newMockGateway(v.GetString("mock-key-id"), v.GetString("mock-key-secret"), logger)

	logger.Info("Starting gateway mock", "port", v.GetString("mock-port"))
	log.Fatal(http.ListenAndServe(":"+v.GetString("mock-port"), gw.routes()))
}
