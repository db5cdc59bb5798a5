package model

import "time"

// Tab はユーザーが所有するメモ（タイトルと本文）を表す。
// 所有者のユーザーと運命を共にし、独立したライフサイクルは持たない。
type Tab struct {
	ID      string
	UserID  string
	Title   string
	Content string
	Updated time.Time
}

// TabInput はタブ作成・更新時の入力値。
type TabInput struct {
	Title   string
	Content string
}
