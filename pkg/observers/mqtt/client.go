package mqtt

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const connectTimeout = 10 * time.Second

// Dial connects to broker and returns an Observer publishing through the new
// connection along with a func that disconnects it.
func Dial(broker, clientID string, opts Options) (*Observer, func(), error) {
	copts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetKeepAlive(30 * time.Second)

	client := paho.NewClient(copts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, nil, fmt.Errorf("mqtt connect to %s: timed out after %s", broker, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, nil, fmt.Errorf("mqtt connect to %s: %w", broker, err)
	}
	disconnect := func() { client.Disconnect(250) }
	return New(client, opts), disconnect, nil
}
