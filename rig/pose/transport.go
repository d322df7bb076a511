package pose

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/CodedInternet/gopneumatic/rig/errors"
	"github.com/go-zeromq/zmq4"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultAddress      = "tcp://127.0.0.1:3885"
	DefaultRedisChannel = "mocap"
)

// Dial opens a pose source for address. The scheme picks the transport:
//
//	tcp://host:port                       ZeroMQ SUB, subscribed to everything
//	ws://host/path, wss://host/path       websocket, one payload per text message
//	redis://host:port/db?channel=name     redis pub/sub
func Dial(ctx context.Context, address string) (s Source, err error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, errors.ConnectionError{Address: address, Err: err}
	}

	switch u.Scheme {
	case "tcp", "ipc":
		s, err = dialZMQ(ctx, address)
	case "ws", "wss":
		s, err = dialWebsocket(ctx, address)
	case "redis", "rediss":
		s, err = dialRedis(ctx, u)
	default:
		err = fmt.Errorf("unsupported pose transport %q", u.Scheme)
	}

	if err != nil {
		return nil, errors.ConnectionError{Address: address, Err: err}
	}
	return s, nil
}

type zmqSource struct {
	sock   zmq4.Socket
	cancel context.CancelFunc
}

func dialZMQ(ctx context.Context, address string) (s *zmqSource, err error) {
	// the socket outlives the dial context
	sockCtx, cancel := context.WithCancel(context.Background())
	sock := zmq4.NewSub(sockCtx)

	if err = sock.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		cancel()
		sock.Close()
		return nil, err
	}

	dialed := make(chan error, 1)
	go func() { dialed <- sock.Dial(address) }()
	select {
	case err = <-dialed:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		cancel()
		sock.Close()
		return nil, err
	}

	return &zmqSource{sock: sock, cancel: cancel}, nil
}

func (s *zmqSource) Recv() ([]byte, error) {
	msg, err := s.sock.Recv()
	if err != nil {
		return nil, err
	}
	if len(msg.Frames) == 0 {
		return nil, nil
	}
	return msg.Frames[len(msg.Frames)-1], nil
}

func (s *zmqSource) Close() error {
	s.cancel()
	return s.sock.Close()
}

type websocketSource struct {
	conn *websocket.Conn
}

func dialWebsocket(ctx context.Context, address string) (*websocketSource, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, address, nil)
	if err != nil {
		return nil, err
	}
	return &websocketSource{conn: conn}, nil
}

func (s *websocketSource) Recv() ([]byte, error) {
	_, message, err := s.conn.ReadMessage()
	return message, err
}

func (s *websocketSource) Close() error {
	return s.conn.Close()
}

type redisSource struct {
	client *redis.Client
	pubsub *redis.PubSub
}

func dialRedis(ctx context.Context, u *url.URL) (*redisSource, error) {
	channel := DefaultRedisChannel
	q := u.Query()
	if c := q.Get("channel"); c != "" {
		channel = c
	}
	q.Del("channel")
	u.RawQuery = q.Encode()

	opt, err := redis.ParseURL(strings.TrimSuffix(u.String(), "?"))
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)
	pubsub := client.Subscribe(ctx, channel)

	// wait for the subscription to be confirmed so a dead server fails bring-up
	if _, err = pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		client.Close()
		return nil, err
	}
	return &redisSource{client: client, pubsub: pubsub}, nil
}

func (s *redisSource) Recv() ([]byte, error) {
	msg, err := s.pubsub.ReceiveMessage(context.Background())
	if err != nil {
		return nil, err
	}
	return []byte(msg.Payload), nil
}

func (s *redisSource) Close() error {
	s.pubsub.Close()
	return s.client.Close()
}
