// Package main provides the course API authentication tool.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/oauth2"
)

var (
	app          = kingpin.New("lessonbox-auth", "Identity provider authentication tool for lessonbox")
	authURL      = app.Flag("auth-url", "Authorization endpoint").Envar("LESSONBOX_API_AUTH_URL").Required().String()
	tokenURL     = app.Flag("token-url", "Token endpoint").Envar("LESSONBOX_API_TOKEN_URL").Required().String()
	clientID     = app.Flag("client-id", "OAuth2 client ID").Envar("LESSONBOX_API_CLIENT_ID").Required().String()
	clientSecret = app.Flag("client-secret", "OAuth2 client secret").Envar("LESSONBOX_API_CLIENT_SECRET").String()
	scopes       = app.Flag("scope", "Scope to request (repeatable)").Default("offline_access").Strings()
	port         = app.Flag("port", "Callback server port").Default("8888").Int()

	oauthConfig *oauth2.Config
	state       = uuid.NewString()
	ch          = make(chan *oauth2.Token)
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	oauthConfig = &oauth2.Config{
		ClientID:     *clientID,
		ClientSecret: *clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  *authURL,
			TokenURL: *tokenURL,
		},
		RedirectURL: fmt.Sprintf("http://127.0.0.1:%d/callback", *port),
		Scopes:      *scopes,
	}

	http.HandleFunc("/callback", completeAuth)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	url := oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline)
	fmt.Println("Please visit the following URL to authorize lessonbox:")
	fmt.Println("")
	fmt.Println(url)
	fmt.Println("")
	fmt.Println("Waiting for authorization...")

	token := <-ch

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Failed to shutdown server: %v", err)
	}

	fmt.Println("")
	fmt.Println("=== Authorization Successful ===")
	fmt.Println("")
	if token.RefreshToken == "" {
		fmt.Println("The identity provider returned no refresh token.")
		fmt.Println("Check that the client may request offline access.")
		os.Exit(1)
	}
	fmt.Println("Refresh Token:")
	fmt.Println(token.RefreshToken)
	fmt.Println("")
	fmt.Println("Add this to your config.yaml:")
	fmt.Println("")
	fmt.Println("api:")
	fmt.Printf("  token_url: \"%s\"\n", *tokenURL)
	fmt.Printf("  client_id: \"%s\"\n", *clientID)
	fmt.Printf("  refresh_token: \"%s\"\n", token.RefreshToken)
	fmt.Println("")
	fmt.Println("Or set as environment variable:")
	fmt.Printf("export LESSONBOX_API_REFRESH_TOKEN=\"%s\"\n", token.RefreshToken)
}

func completeAuth(w http.ResponseWriter, r *http.Request) {
	if st := r.FormValue("state"); st != state {
		http.Error(w, "State mismatch", http.StatusForbidden)
		log.Printf("State mismatch: %s != %s", st, state)
		return
	}
	if msg := r.FormValue("error"); msg != "" {
		http.Error(w, "Authorization denied", http.StatusForbidden)
		log.Printf("Authorization denied: %s", msg)
		return
	}

	token, err := oauthConfig.Exchange(r.Context(), r.FormValue("code"))
	if err != nil {
		http.Error(w, "Failed to get token", http.StatusForbidden)
		log.Printf("Failed to get token: %v", err)
		return
	}

	fmt.Fprint(w, `
<!DOCTYPE html>
<html>
<head>
    <title>lessonbox - Authorization Complete</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            height: 100vh;
            margin: 0;
            background: #1f2933;
            color: white;
        }
        .container {
            text-align: center;
            padding: 40px;
            background: rgba(0, 0, 0, 0.5);
            border-radius: 16px;
        }
        h1 { margin-bottom: 20px; }
        p { opacity: 0.8; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Authorization Complete</h1>
        <p>You can close this window and return to the terminal.</p>
    </div>
</body>
</html>
`)

	ch <- token
}
