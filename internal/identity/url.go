package identity

import (
	"fmt"
	"net/url"
)

func parseUrl(input string) (*url.URL, error) {
	u, err := url.Parse(input)
	if err != nil {
		return nil, err
	}

	if u.Hostname() == "" {
		return nil, fmt.Errorf("url hostname was empty")
	}

	return u, nil
}
