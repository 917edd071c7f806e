package stunutil

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pion/stun/v3"
)

// RTT performs one STUN binding transaction and returns its round-trip time
// together with the mapped address reported by the server.
func RTT(ctx context.Context, server string, timeout time.Duration) (time.Duration, string, error) {
	uriStr, err := normalizeURI(server)
	if err != nil {
		return 0, "", err
	}

	uri, err := stun.ParseURI(uriStr)
	if err != nil {
		return 0, "", err
	}

	client, err := stun.DialURI(uri, &stun.DialConfig{})
	if err != nil {
		return 0, "", err
	}
	defer client.Close()

	type reply struct {
		addr stun.XORMappedAddress
		rtt  time.Duration
	}

	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	result := make(chan reply, 1)
	fail := make(chan error, 1)

	sendErr := func(err error) {
		select {
		case fail <- err:
		default:
		}
	}

	go func() {
		start := time.Now()
		err := client.Do(msg, func(res stun.Event) {
			if res.Error != nil {
				sendErr(res.Error)
				return
			}
			var r reply
			r.rtt = time.Since(start)
			if err := r.addr.GetFrom(res.Message); err != nil {
				sendErr(err)
				return
			}
			select {
			case result <- r:
			default:
			}
		})
		if err != nil {
			sendErr(err)
		}
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case r := <-result:
		return r.rtt, r.addr.String(), nil
	case err := <-fail:
		return 0, "", err
	case <-ctx.Done():
		return 0, "", ctx.Err()
	}
}

func normalizeURI(server string) (string, error) {
	uriStr := strings.TrimSpace(server)
	if uriStr == "" {
		return "", fmt.Errorf("empty STUN server")
	}
	lower := strings.ToLower(uriStr)
	if !strings.HasPrefix(lower, "stun:") && !strings.HasPrefix(lower, "stuns:") {
		uriStr = "stun:" + uriStr
	}
	return uriStr, nil
}
