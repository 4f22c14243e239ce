package domain

import "time"

// Message 表示一封收到的邮件，归属于唯一的邮箱。
// 邮件创建后不再修改（追加写模型），随所属邮箱一起被清理删除。
type Message struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	MailboxID string    `json:"mailboxId" gorm:"type:varchar(36);index;not null"`
	From      string    `json:"from" gorm:"type:varchar(255)"`
	Subject   string    `json:"subject" gorm:"type:varchar(500)"`
	Raw       string    `json:"raw,omitempty" gorm:"type:text"`
	Text      string    `json:"text,omitempty" gorm:"type:text"`
	HTML      string    `json:"html,omitempty" gorm:"type:text"`
	CreatedAt time.Time `json:"createdAt" gorm:"index"`
}
