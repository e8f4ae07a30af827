package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"qi_api/pkg/utils"
)

// 压测同一用户对同一商品并发下单：无论多少并发，都应只产生一个订单号
var (
	baseURL     = flag.String("url", "http://localhost:8080", "服务地址")
	secret      = flag.String("secret", os.Getenv("JWT_SECRET"), "JWT 密钥")
	userID      = flag.String("user", "", "用户 ID")
	productID   = flag.String("product", "", "商品 ID")
	payType     = flag.String("pay-type", "WX", "支付方式 WX / ALIPAY")
	concurrency = flag.Int("n", 200, "并发请求数")
)

var httpClient *http.Client

func init() {
	// 优化 HTTP Client 配置
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 2000
	t.MaxIdleConnsPerHost = 2000
	t.MaxConnsPerHost = 2000
	httpClient = &http.Client{
		Transport: t,
		Timeout:   15 * time.Second,
	}
}

func main() {
	flag.Parse()
	if *userID == "" || *productID == "" || *secret == "" {
		fmt.Println("usage: stress_tool -user <uuid> -product <uuid> -secret <jwt secret>")
		os.Exit(2)
	}

	token, _, err := utils.GenerateToken(*secret, *userID, time.Hour)
	if err != nil {
		fmt.Printf("生成 token 失败: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("开始压测：%d 个并发请求为同一商品下单 (product: %s, payType: %s)...\n", *concurrency, *productID, *payType)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		orderNos = make(map[string]int)
		statuses = make(map[int]int)
	)

	start := time.Now()
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, orderNo := createOrder(token)
			mu.Lock()
			defer mu.Unlock()
			statuses[status]++
			if orderNo != "" {
				orderNos[orderNo]++
			}
		}()
	}
	wg.Wait()
	duration := time.Since(start)

	fmt.Println("--------------------------------------------------")
	fmt.Printf("压测结束，耗时: %v\n", duration)
	fmt.Printf("QPS: %.2f\n", float64(*concurrency)/duration.Seconds())
	for status, n := range statuses {
		fmt.Printf("HTTP %d: %d\n", status, n)
	}
	fmt.Printf("不同订单号: %d (预期: 1)\n", len(orderNos))
	for no, n := range orderNos {
		fmt.Printf("  %s x %d\n", no, n)
	}
	fmt.Println("--------------------------------------------------")

	if len(orderNos) > 1 {
		os.Exit(1)
	}
}

// createOrder 返回 HTTP 状态码和订单号，请求失败时状态码为 0
func createOrder(token string) (int, string) {
	body, _ := json.Marshal(map[string]string{"productId": *productID, "payType": *payType})
	req, err := http.NewRequest(http.MethodPost, *baseURL+"/payment/order", bytes.NewReader(body))
	if err != nil {
		return 0, ""
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, ""
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode != http.StatusOK {
		return resp.StatusCode, ""
	}

	var result struct {
		Code int `json:"code"`
		Data struct {
			OrderNo string `json:"orderNo"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil || result.Code != 0 {
		return resp.StatusCode, ""
	}
	return resp.StatusCode, result.Data.OrderNo
}
