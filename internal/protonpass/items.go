package protonpass

import (
	"encoding/json"
	"fmt"
)

type vaultListResponse struct {
	Vaults []struct {
		Name string `json:"name"`
	} `json:"vaults"`
}

type itemListResponse struct {
	Items []struct {
		Content itemContent `json:"content"`
	} `json:"items"`
}

type itemContent struct {
	Title   string `json:"title"`
	Content struct {
		SSHKey *struct {
			PrivateKey string `json:"private_key"`
			PublicKey  string `json:"public_key"`
		} `json:"SshKey"`
		Custom *struct {
			Sections []struct {
				SectionName   string  `json:"section_name"`
				SectionFields []field `json:"section_fields"`
			} `json:"sections"`
		} `json:"Custom"`
	} `json:"content"`
	ExtraFields []field `json:"extra_fields"`
}

type field struct {
	Name    string `json:"name"`
	Content struct {
		Text *string `json:"Text"`
	} `json:"content"`
}

func lookup(fields []field, name string) string {
	for _, f := range fields {
		if f.Name == name && f.Content.Text != nil {
			return *f.Content.Text
		}
	}
	return ""
}

func parseVaults(data []byte) ([]string, error) {
	var resp vaultListResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse vault list: %w", err)
	}

	var vaults []string
	for _, v := range resp.Vaults {
		if v.Name != "Trash" {
			vaults = append(vaults, v.Name)
		}
	}
	return vaults, nil
}

func decodeItems(data []byte) (*itemListResponse, error) {
	var resp itemListResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse item list: %w", err)
	}
	return &resp, nil
}

func parseSSHKeys(data []byte) ([]Item, error) {
	resp, err := decodeItems(data)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(resp.Items))
	for _, raw := range resp.Items {
		c := raw.Content
		item := Item{
			Title:         c.Title,
			Host:          lookup(c.ExtraFields, "Host"),
			Username:      lookup(c.ExtraFields, "Username"),
			Aliases:       lookup(c.ExtraFields, "Aliases"),
			SSH:           lookup(c.ExtraFields, "SSH"),
			ServerCommand: lookup(c.ExtraFields, "Server Command"),
			Jump:          lookup(c.ExtraFields, "Jump"),
		}
		if key := c.Content.SSHKey; key != nil {
			item.PrivateKey = key.PrivateKey
			item.PublicKey = key.PublicKey
		}
		items = append(items, item)
	}
	return items, nil
}

func parseTeleportItems(data []byte) ([]Item, error) {
	resp, err := decodeItems(data)
	if err != nil {
		return nil, err
	}

	var items []Item
	for _, raw := range resp.Items {
		custom := raw.Content.Content.Custom
		if custom == nil {
			continue
		}
		for _, section := range custom.Sections {
			if section.SectionName != TeleportSection {
				continue
			}
			ssh := lookup(section.SectionFields, "SSH")
			serverCommand := lookup(section.SectionFields, "Server Command")
			if ssh == "" && serverCommand == "" {
				break
			}
			items = append(items, Item{
				Title:         raw.Content.Title,
				SSH:           ssh,
				ServerCommand: serverCommand,
			})
			break
		}
	}
	return items, nil
}
