package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/harunnryd/callscribe/pkg/configutil"
	"github.com/harunnryd/callscribe/pkg/relay"
	"github.com/harunnryd/callscribe/pkg/transports"
	twiliotransport "github.com/harunnryd/callscribe/pkg/transports/twilio"
)

func main() {
	configPath := flag.String("config", "", "")
	from := flag.String("from", "", "")
	to := flag.String("to", "", "")
	voiceURL := flag.String("voice_url", "", "")
	sendDigits := flag.String("send_digits", "", "")
	clientID := flag.String("client_id", "", "clientId forwarded to the media stream")
	appID := flag.String("app_id", "", "base44_app_id forwarded to the media stream")
	tipsKey := flag.String("tips_key", os.Getenv("GENERATE_AGENT_TIPS_API_KEY"), "generate_agent_tips_api_key forwarded to the media stream")
	flag.Parse()
	if *from == "" || *to == "" {
		fmt.Println("usage: make_call -from=+123 -to=+456 [-config=...] [-client_id=... -app_id=... -tips_key=...]")
		os.Exit(1)
	}
	_ = godotenv.Load()

	cfg, err := relay.LoadConfig(*configPath)
	if err != nil {
		fmt.Println("config error:", err)
		os.Exit(1)
	}
	var settings twiliotransport.Config
	if err := configutil.DecodeSettings(cfg.Transports.Settings, &settings); err != nil {
		fmt.Println("settings error:", err)
		os.Exit(1)
	}
	if *voiceURL == "" && settings.PublicURL == "" {
		fmt.Println("public_url is empty")
		os.Exit(1)
	}

	params := map[string]string{}
	for k, v := range map[string]string{
		"clientId":                    *clientID,
		"base44_app_id":               *appID,
		"generate_agent_tips_api_key": *tipsKey,
	} {
		if v != "" {
			params[k] = v
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	dialer := twiliotransport.NewDialer(settings)
	callSID, err := dialer.DialWithOptions(ctx, *to, *from, *voiceURL, transports.DialOptions{
		SendDigits: *sendDigits,
		Parameters: params,
	})
	if err != nil {
		fmt.Println("call error:", err)
		os.Exit(1)
	}
	fmt.Println("call_sid:", callSID)
}
