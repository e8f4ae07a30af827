package model

import baseModel "qi_api/pkg/model"

// User 用户模型，Balance 为积分余额
type User struct {
	baseModel.BaseModel
	Username string `gorm:"uniqueIndex;size:64" json:"username"`
	Email    string `gorm:"size:128" json:"email"`
	Balance  int64  `gorm:"not null" json:"balance"`
}
